package rs232

import (
	"testing"

	"go.bug.st/serial"

	"github.com/prodline/prodline/internal/protocol"

	"github.com/stretchr/testify/require"
)

func TestMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		parity  serial.Parity
		data    int
		stop    serial.StopBits
	}{
		{"", serial.NoParity, 8, serial.OneStopBit},
		{"n81", serial.NoParity, 8, serial.OneStopBit},
		{"N81", serial.NoParity, 8, serial.OneStopBit},
		{"e71", serial.EvenParity, 7, serial.OneStopBit},
		{"o72", serial.OddParity, 7, serial.TwoStopBits},
	}
	for _, tc := range tests {
		m, err := mode(protocol.PortSettings{Speed: 115200, DataPattern: tc.pattern})
		require.NoError(t, err, tc.pattern)
		require.Equal(t, 115200, m.BaudRate)
		require.Equal(t, tc.parity, m.Parity)
		require.Equal(t, tc.data, m.DataBits)
		require.Equal(t, tc.stop, m.StopBits)
	}
}

func TestModeInvalid(t *testing.T) {
	t.Parallel()

	for _, pattern := range []string{"x81", "n91", "n83", "n8", "none"} {
		_, err := mode(protocol.PortSettings{DataPattern: pattern})
		require.Error(t, err, pattern)
	}
}
