package pool

import (
	"go.bug.st/serial/enumerator"

	"github.com/prodline/prodline/internal/model"
)

// Enumerate lists the host's serial ports. USB metadata feeds the multi-port
// device grouping: ports reported with the same serial number are one device.
func Enumerate() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	var out []PortInfo
	for _, p := range ports {
		info := PortInfo{Name: p.Name}
		if p.IsUSB {
			info.Device = p.VID + ":" + p.PID
			info.Serial = p.SerialNumber
		}
		out = append(out, info)
	}
	return out, nil
}

// FromStatic converts statically configured ports into pool entries.
func FromStatic(ports []model.StaticPort) []PortInfo {
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{Name: p.Name, Device: p.Device, Serial: p.Serial})
	}
	return out
}

// Merge combines static and enumerated ports; the static declaration wins on
// a name collision.
func Merge(static, detected []PortInfo) []PortInfo {
	seen := make(map[string]struct{}, len(static))
	out := make([]PortInfo, 0, len(static)+len(detected))
	for _, p := range static {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	for _, p := range detected {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out
}
