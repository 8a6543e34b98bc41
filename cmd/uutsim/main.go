// uutsim answers the standard UUT command set on real serial ports. It is
// the counterpart for exercising the rs232 backend end to end without a
// board under test: wire two ports together (or use a pty pair) and point
// prodline at one side.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/prodline/prodline/internal/protocol/dummy"
)

func main() {
	baud := flag.Int("baud", 115200, "baud rate")
	latency := flag.Duration("latency", 50*time.Millisecond, "simulated response latency")
	flag.Parse()

	ports := flag.Args()
	if len(ports) == 0 {
		fmt.Fprintln(os.Stderr, "usage: uutsim [-baud N] [-latency D] PORT [PORT...]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range ports {
		g.Go(func() error {
			return serve(ctx, name, *baud, *latency)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

// serve answers commands on one port until ctx is cancelled or the port
// fails.
func serve(ctx context.Context, name string, baud int, latency time.Duration) error {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer func() {
		_ = port.Close()
	}()
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return fmt.Errorf("setting read timeout on %s: %w", name, err)
	}

	log.Printf("%s: answering UUT commands", name)
	script := dummy.DefaultScript()

	var line []byte
	buf := make([]byte, 256)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := port.Read(buf)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		line = append(line, buf[:n]...)

		for {
			idx := bytes.IndexByte(line, '\n')
			if idx < 0 {
				break
			}
			cmd := strings.TrimRight(string(line[:idx]), "\r")
			line = line[idx+1:]
			if cmd == "" {
				continue
			}

			response, ok := script[cmd]
			if !ok {
				response = dummy.UnknownResponse
			}
			log.Printf("%s: %s -> %s", name, cmd, response)

			if latency > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(latency):
				}
			}
			if _, err := port.Write([]byte(response + "\r\n")); err != nil {
				return fmt.Errorf("writing %s: %w", name, err)
			}
		}
	}
}
