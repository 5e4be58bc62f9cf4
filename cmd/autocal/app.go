package main

import (
	"context"
	"io"
	"time"

	"delta-autocal/pkg/calibrate"
	"delta-autocal/pkg/config"
	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/gcode"
	"delta-autocal/pkg/log"
	"delta-autocal/pkg/metrics"
	"delta-autocal/pkg/monitor"
	"delta-autocal/pkg/pattern"
	"delta-autocal/pkg/printer"
	"delta-autocal/pkg/report"
	"delta-autocal/pkg/serial"
)

// app is one autocal invocation.
type app struct {
	opts     *options
	settings config.Settings
	logger   *log.Logger

	// dial opens the printer link; tests replace it with the simulator.
	dial func(config.SerialSettings) (io.ReadWriteCloser, error)

	reports *report.Writer
	metrics *metrics.CalibrationMetrics
	monitor *monitor.Server
}

func newApp(opts *options, s config.Settings) *app {
	return &app{
		opts:     opts,
		settings: s,
		logger:   log.GetLogger("autocal"),
		dial:     dialSerial,
	}
}

func dialSerial(ss config.SerialSettings) (io.ReadWriteCloser, error) {
	device := ss.Port
	if device == "" {
		var err error
		if device, err = serial.Detect(); err != nil {
			return nil, err
		}
	}
	return serial.Connect(serial.Config{
		Device:      device,
		BaudRate:    ss.Baud,
		ParityReset: ss.ParityReset,
	})
}

// runSafe is run with panics turned into errors.
func (a *app) runSafe(ctx context.Context) (err error) {
	defer errors.RecoverPanic(&err)
	return a.run(ctx)
}

func (a *app) run(ctx context.Context) error {
	s := a.settings
	machine, err := s.Machine()
	if err != nil {
		return err
	}
	var calCfg calibrate.Config
	if !a.opts.g33 {
		if calCfg, err = s.Calibration(); err != nil {
			return err
		}
	}

	if a.reports, err = report.NewWriter(s.ReportDir); err != nil {
		return err
	}
	observers := []calibrate.Observer{a.reports}
	stopServers := a.startServers()
	defer stopServers()
	if a.metrics != nil {
		observers = append(observers, a.metrics)
	}
	if a.monitor != nil {
		observers = append(observers, a.monitor)
	}

	rw, err := a.dial(s.Serial)
	if err != nil {
		return err
	}
	connOpts := []gcode.Option{gcode.WithLineTimeout(s.Serial.LineTimeout)}
	if a.opts.trace {
		trace := log.GetLogger("trace")
		connOpts = append(connOpts, gcode.WithTracer(func(dir, line string) {
			trace.Debug("%s %s", dir, line)
		}))
	}
	conn := gcode.NewConn(rw, connOpts...)
	defer conn.Close()

	session := printer.NewSession(conn, machine)
	if err := session.Setup(ctx, s.State()); err != nil {
		return err
	}

	if a.opts.g33 {
		return a.runFirmware(ctx, session)
	}
	return a.runHost(ctx, session, calCfg, observers)
}

func (a *app) startServers() func() {
	var stops []func()
	if a.opts.metricsAddr != "" {
		a.metrics = metrics.NewCalibrationMetrics()
		srv := metrics.NewServer(a.metrics, a.opts.metricsAddr)
		srv.StartAsync()
		stops = append(stops, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	if a.opts.monitorAddr != "" {
		a.monitor = monitor.New(monitor.Config{Addr: a.opts.monitorAddr})
		go func() {
			if err := a.monitor.Start(); err != nil {
				a.logger.Error("%v", err)
			}
		}()
		stops = append(stops, func() { _ = a.monitor.Stop() })
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func (a *app) runHost(ctx context.Context, session *printer.Session, cfg calibrate.Config, observers []calibrate.Observer) error {
	ctrl, err := calibrate.NewController(cfg, session, session, observers...)
	if err != nil {
		return err
	}
	run, err := ctrl.Run(ctx)
	if err != nil {
		return err
	}
	if err := a.reports.Err(); err != nil {
		a.logger.Warn("some reports were not written: %v", err)
	}

	a.settings.SetState(run.State)
	a.logger.WithFields(log.Fields{
		"passes": run.Iterations,
		"high":   run.High.String(),
	}).Infof("calibrated: %s", run.State)
	if err := a.persist(); err != nil {
		return err
	}
	return a.postActions(ctx, session, cfg, run)
}

func (a *app) runFirmware(ctx context.Context, session *printer.Session) error {
	runner, err := printer.NewG33Runner(session)
	if err != nil {
		return err
	}
	out, err := calibrate.RunFirmwareLoop(ctx, a.settings.FirmwareLoop(), runner)
	if a.metrics != nil {
		a.metrics.RecordFirmware(out)
	}
	if a.monitor != nil {
		a.monitor.RecordFirmware("g33", out)
	}
	if err != nil {
		return err
	}

	st := a.settings.State()
	st.Radius, st.RodLength, st.Offsets = out.Best.Radius, out.BestRodLength, out.Best.Endstops
	a.settings.SetState(st)
	a.logger.WithFields(log.Fields{
		"passes":  out.Iterations,
		"reason":  out.Reason.String(),
		"std_dev": out.Best.StdDev,
	}).Infof("firmware calibration done: %s", st)
	if err := a.persist(); err != nil {
		return err
	}
	if a.opts.save {
		return session.Save(ctx)
	}
	return nil
}

// persist writes the calibrated geometry to the JSON file and, when
// asked, back into the INI file.
func (a *app) persist() error {
	if a.opts.jsonPath != "" {
		if err := a.settings.SaveJSON(a.opts.jsonPath); err != nil {
			return err
		}
		a.logger.Info("settings saved to %s", a.opts.jsonPath)
	}
	if a.opts.saveConfig && a.opts.configPath != "" {
		ac, err := config.LoadAutosave(a.opts.configPath)
		if err != nil {
			return err
		}
		a.settings.StoreINI(ac)
		if err := ac.SaveChanges(""); err != nil {
			return err
		}
		a.logger.Info("geometry stored in %s", a.opts.configPath)
	}
	return nil
}

func (a *app) postActions(ctx context.Context, session *printer.Session, cfg calibrate.Config, run *calibrate.Run) error {
	if err := session.Home(ctx); err != nil {
		return err
	}
	if a.opts.heatmap && !cfg.Pattern.IsDense() {
		if err := a.heatMap(ctx, session, cfg, run); err != nil {
			return err
		}
	}
	if a.opts.carbon {
		a.logger.Info("carbon paper test")
		if err := session.CarbonPaperTest(ctx); err != nil {
			return err
		}
	}
	if a.opts.mesh {
		rep, err := session.MeshDump(ctx, run.State)
		if err != nil {
			return err
		}
		path, err := a.reports.SaveMesh(rep.State, rep.Lines)
		if err != nil {
			return err
		}
		a.logger.Info("mesh saved to %s", path)
	}
	if a.opts.save {
		return session.Save(ctx)
	}
	return nil
}

// heatMap probes the dense pattern once so a sparse calibration still
// leaves a full grid report.
func (a *app) heatMap(ctx context.Context, session *printer.Session, cfg calibrate.Config, run *calibrate.Run) error {
	dense := pattern.MustParse(pattern.DenseCode)
	set, err := session.Probe(ctx, dense, report.HeatMapPass)
	if err != nil {
		return err
	}
	_, grid, err := calibrate.BuildModel(set, cfg.CornerMode)
	if err != nil {
		return err
	}
	if err := a.reports.SavePass(report.HeatMapPass, run.State, run.High, set, grid); err != nil {
		return err
	}
	a.logger.Info("heat map saved to %s", a.reports.Dir())
	return nil
}
