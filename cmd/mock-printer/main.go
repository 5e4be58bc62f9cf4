// mock-printer serves a simulated delta printer over a socket so autocal
// can be run end to end without hardware.
//
// Usage:
//
//	mock-printer -socket /tmp/autocal_printer [-firmware marlin] [-endstops -0.3,0,0.2]
//	mock-printer -tcp 127.0.0.1:8250
//
// Then point autocal at it with -port unix:/tmp/autocal_printer or
// -port tcp:127.0.0.1:8250.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"delta-autocal/pkg/log"
	"delta-autocal/pkg/sim"
)

var logger = log.GetLogger("mock-printer")

func parseTriple(s string) ([3]float64, error) {
	var out [3]float64
	if s == "" {
		return out, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return out, fmt.Errorf("want three comma separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("bad value %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func main() {
	socketPath := flag.String("socket", "/tmp/autocal_printer", "Unix socket path")
	tcpAddr := flag.String("tcp", "", "Listen on a TCP address instead of a Unix socket")
	firmware := flag.String("firmware", "stock", "Firmware to imitate: stock or marlin")
	radius := flag.Float64("radius", 63.5, "True delta radius")
	rod := flag.Float64("rod", 123, "True diagonal rod length")
	endstops := flag.String("endstops", "", "True endstop errors as x,y,z")
	tilt := flag.String("tilt", "", "Bed slope along X and Y as x,y,0")
	noise := flag.Float64("noise", 0, "Probe noise standard deviation in mm")
	trace := flag.Bool("trace", false, "Log every line received")
	flag.Parse()

	if *trace {
		log.Root().SetLevel(log.DEBUG)
	}

	m := sim.DefaultMachine()
	m.Radius, m.RodLength, m.Noise = *radius, *rod, *noise
	var err error
	if m.Endstops, err = parseTriple(*endstops); err != nil {
		logger.Error("-endstops: %v", err)
		os.Exit(1)
	}
	t, err := parseTriple(*tilt)
	if err != nil {
		logger.Error("-tilt: %v", err)
		os.Exit(1)
	}
	m.BedTilt = [2]float64{t[0], t[1]}

	flavor := sim.Stock
	switch *firmware {
	case "stock":
	case "marlin":
		flavor = sim.Marlin
	default:
		logger.Error("unknown firmware %q", *firmware)
		os.Exit(1)
	}
	printer := sim.New(m, flavor)

	var listener net.Listener
	if *tcpAddr != "" {
		listener, err = net.Listen("tcp", *tcpAddr)
	} else {
		os.Remove(*socketPath)
		listener, err = net.Listen("unix", *socketPath)
		defer os.Remove(*socketPath)
	}
	if err != nil {
		logger.Error("listen: %v", err)
		os.Exit(1)
	}
	defer listener.Close()

	logger.WithFields(log.Fields{
		"addr":     listener.Addr().String(),
		"firmware": flavor.String(),
		"radius":   m.Radius,
		"rod":      m.RodLength,
		"endstops": m.Endstops,
	}).Info("mock printer listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			connCh <- conn
		}
	}()

	for {
		select {
		case <-sigCh:
			logger.Info("shutting down after %d saves", printer.Saves())
			return
		case conn := <-connCh:
			logger.Info("client connected")
			go func() {
				defer conn.Close()
				if err := printer.Serve(conn); err != nil {
					logger.Warn("connection: %v", err)
				}
				logger.Info("client disconnected")
				if *trace {
					for _, line := range printer.Received() {
						logger.Debug("<- %s", line)
					}
				}
			}()
		}
	}
}
