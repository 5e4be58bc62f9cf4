// autocal calibrates a delta 3D printer by probing its bed and adjusting
// endstop offsets, delta radius and rod length until the bed is flat.
//
// Usage:
//
//	autocal [-config autocal.cfg] [-f settings.json] [-port /dev/ttyACM0] [options]
//
// Settings are layered: built-in defaults, then the INI file, then the
// JSON settings file, then any flag given on the command line.
//
// Examples:
//
//	# Four-point calibration on stock firmware, port auto-detected
//	autocal -f autocal.json
//
//	# Dense pattern on Marlin, then save to EEPROM
//	autocal -firmware 1 -pattern 5 -save
//
//	# Let Marlin calibrate itself with G33 while autocal tunes rod length
//	autocal -firmware 1 -g33
//
//	# Against the simulator
//	mock-printer -socket /tmp/autocal_printer &
//	autocal -port unix:/tmp/autocal_printer
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/log"
	"delta-autocal/pkg/serial"
)

// Exit codes.
const (
	exitOK            = 0
	exitFailure       = 1
	exitMaxIterations = 2
	exitDiverged      = 3
	exitAmbiguous     = 4
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errors.ErrMaxIterations):
		return exitMaxIterations
	case errors.Is(err, errors.ErrDiverged):
		return exitDiverged
	case errors.Is(err, errors.ErrHighTowerAmbiguous):
		return exitAmbiguous
	}
	return exitFailure
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) (code int) {
	logger := log.GetLogger("autocal")

	opts, settings, err := parseArgs(args)
	if err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "autocal: %v\n", err)
		return exitFailure
	}

	if opts.logLevel != "" {
		log.Root().SetLevel(log.ParseLevel(opts.logLevel))
	}
	if opts.logFile != "" {
		fw, err := log.AttachFile(log.Root(), log.RotationConfig{Filename: opts.logFile}, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "autocal: log file: %v\n", err)
			return exitFailure
		}
		defer fw.Close()
	}

	if opts.listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			logger.Error("%v", err)
			return exitFailure
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(opts, settings)
	err = a.runSafe(ctx)
	code = exitCode(err)
	if err != nil {
		logger.WithError(err).WithField("exit", code).Error("calibration failed")
	}
	return code
}
