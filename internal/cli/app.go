package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/nfefetch/internal/backend"
	"github.com/roach88/nfefetch/internal/backend/cdp"
	"github.com/roach88/nfefetch/internal/backend/pw"
	"github.com/roach88/nfefetch/internal/backend/rodsess"
	"github.com/roach88/nfefetch/internal/capture"
	"github.com/roach88/nfefetch/internal/clock"
	"github.com/roach88/nfefetch/internal/config"
	"github.com/roach88/nfefetch/internal/detect"
	"github.com/roach88/nfefetch/internal/engine"
	"github.com/roach88/nfefetch/internal/missing"
	"github.com/roach88/nfefetch/internal/notify"
	"github.com/roach88/nfefetch/internal/position"
	"github.com/roach88/nfefetch/internal/store"
	"github.com/roach88/nfefetch/internal/timing"
)

// App is the wired application shared by every command.
type App struct {
	Config     config.Config
	FS         afero.Fs
	Clock      clock.Clock
	Logger     *slog.Logger
	Store      *store.Store
	Positions  *position.Store
	Missing    *missing.Log
	Supervisor *engine.Supervisor

	opts    *RootOptions
	out     *OutputFormatter
	closers []func() error
}

func newApp(cmd *cobra.Command, opts *RootOptions) (*App, error) {
	out := opts.formatter(cmd)
	fsys := opts.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	cfg, err := config.Load(fsys, opts.ConfigPath, opts.Env)
	if err != nil {
		_ = out.Error(ErrCodeConfiguration, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	a := &App{Config: cfg, FS: fsys, Clock: clk, opts: opts, out: out}

	logFile := opts.LogFile
	if logFile == "" {
		logFile = cfg.LogFile
	}
	if err := a.setupLogging(cmd.ErrOrStderr(), logFile, opts.Verbose); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open log file", err)
	}

	st, err := store.Open(cfg.SettingsDB)
	if err != nil {
		a.Close()
		_ = out.Error(ErrCodeStorage, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open settings database", err)
	}
	a.closers = append(a.closers, st.Close)
	a.Store = st
	a.Positions = position.NewStore(st)
	a.Missing = missing.NewLog(fsys, cfg.MissingLogPath(), clk, a.Logger)
	a.Supervisor = engine.NewSupervisor(a.Logger)
	a.Logger.Debug("application ready", "config", opts.ConfigPath, "settings_db", cfg.SettingsDB)
	return a, nil
}

// setupLogging builds the slog text logger: stderr always, plus logFile
// when set.
func (a *App) setupLogging(stderr io.Writer, logFile string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	w := stderr
	if logFile != "" {
		f, err := a.FS.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f.Close)
		w = io.MultiWriter(stderr, f)
	}
	a.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

// Close releases everything the app opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Logger != nil {
			a.Logger.Warn("close", "error", err)
		}
	}
	a.closers = nil
}

// startEvents starts the notification bus feeding the terminal (text
// mode) and NATS (when configured). The returned stop drains the bus.
func (a *App) startEvents(ctx context.Context, w io.Writer) (notify.Publisher, func()) {
	var sinks []notify.Sink
	if !a.out.JSON() {
		sinks = append(sinks, &terminalSink{w: w})
	}
	var natsSink *notify.NATSSink
	if a.Config.Notify.NATSURL != "" {
		s, err := notify.DialNATS(a.Config.Notify.NATSURL, a.Config.Notify.Subject, a.Logger)
		if err != nil {
			a.Logger.Warn("event stream disabled", "error", err)
		} else {
			natsSink = s
			sinks = append(sinks, s)
		}
	}

	bus := notify.NewBus(sinks...)
	stop := bus.Start(context.WithoutCancel(ctx))
	return bus, func() {
		stop()
		if natsSink != nil {
			if err := natsSink.Close(); err != nil {
				a.Logger.Warn("close event stream", "error", err)
			}
		}
	}
}

// Speed resolves the speed level: flag, then config, then the saved
// setting, then the default. The result is clamped.
func (a *App) Speed(ctx context.Context, flag int) int {
	if flag > 0 {
		return timing.ClampSpeed(flag)
	}
	if a.Config.Speed > 0 {
		return timing.ClampSpeed(a.Config.Speed)
	}
	saved, ok, err := a.Positions.Speed(ctx)
	if err != nil {
		a.Logger.Warn("read saved speed", "error", err)
	}
	if ok {
		return timing.ClampSpeed(saved)
	}
	return timing.DefaultSpeed
}

// newOperator builds the addressing layer for kind. profile paces the
// coordinate backend's typing.
func (a *App) newOperator(kind backend.Kind, profile timing.Profile) (backend.Operator, error) {
	if a.opts.NewOperator != nil {
		return a.opts.NewOperator(a, kind)
	}
	cfg := a.Config
	if cfg.DiagnosticsDir != "" {
		if err := a.FS.MkdirAll(cfg.DiagnosticsDir, 0o755); err != nil {
			a.Logger.Warn("diagnostics disabled", "dir", cfg.DiagnosticsDir, "error", err)
			cfg.DiagnosticsDir = ""
		}
	}

	switch kind {
	case backend.KindCoordinate:
		browser := cdp.NewBrowser(cdp.Options{
			URL:         cfg.PortalURL,
			Headless:    cfg.Browser.Headless,
			Width:       cfg.Browser.Width,
			Height:      cfg.Browser.Height,
			ExecPath:    cfg.Browser.ExecPath,
			DownloadDir: cfg.OutputDir,
		}, a.Logger)
		return backend.NewCoordinate(cdp.NewPointer(browser), a.Positions,
			a.coordinateOptions(profile, cfg.DiagnosticsDir)), nil

	case backend.KindLocator:
		var session backend.Session
		switch cfg.Driver() {
		case config.DriverRod:
			session = rodsess.New(rodsess.Options{
				Headless:    cfg.Browser.Headless,
				Width:       cfg.Browser.Width,
				Height:      cfg.Browser.Height,
				ExecPath:    cfg.Browser.ExecPath,
				DownloadDir: cfg.OutputDir,
				Logger:      a.Logger,
			})
		default:
			session = pw.New(pw.Options{
				Headless:    cfg.Browser.Headless,
				Width:       cfg.Browser.Width,
				Height:      cfg.Browser.Height,
				ExecPath:    cfg.Browser.ExecPath,
				DownloadDir: cfg.OutputDir,
				Logger:      a.Logger,
			})
		}
		return backend.NewLocator(session, backend.LocatorOptions{
			URL:            cfg.PortalURL,
			Selectors:      cfg.LocatorSelectors(),
			Timeout:        cfg.LocatorWait(),
			DiagnosticsDir: cfg.DiagnosticsDir,
			Logger:         a.Logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown backend %q", kind)
}

// coordinateOptions paces typing with the profile's step wait, so the
// settle before Ctrl+A scales with speed like every other pause.
func (a *App) coordinateOptions(profile timing.Profile, diagnosticsDir string) backend.CoordinateOptions {
	return backend.CoordinateOptions{
		Clock:          a.Clock,
		Settle:         profile.Wait(timing.StageStepWait),
		DiagnosticsDir: diagnosticsDir,
		Logger:         a.Logger,
	}
}

// newRecorder builds the click recorder used by capture. The browser is
// always visible: the user has to click in it.
func (a *App) newRecorder() (capture.Recorder, error) {
	if a.opts.NewRecorder != nil {
		return a.opts.NewRecorder(a)
	}
	browser := cdp.NewBrowser(cdp.Options{
		URL:         a.Config.PortalURL,
		Width:       a.Config.Browser.Width,
		Height:      a.Config.Browser.Height,
		ExecPath:    a.Config.Browser.ExecPath,
		DownloadDir: a.Config.OutputDir,
	}, a.Logger)
	return cdp.NewRecorder(browser, a.Logger), nil
}

// replaySettings are the per-invocation choices of run, batch and retry.
type replaySettings struct {
	Backend string
	Captcha string
	Speed   int
}

func (a *App) resolve(ctx context.Context, s replaySettings) (backend.Kind, backend.CaptchaPolicy, int, error) {
	kindName := s.Backend
	if kindName == "" {
		kindName = a.Config.Backend
	}
	kind, err := backend.ParseKind(kindName)
	if err != nil {
		return "", "", 0, WrapExitError(ExitCommandError, "invalid --backend", err)
	}
	captchaName := s.Captcha
	if captchaName == "" {
		captchaName = a.Config.Captcha
	}
	captcha, err := backend.ParseCaptchaPolicy(captchaName)
	if err != nil {
		return "", "", 0, WrapExitError(ExitCommandError, "invalid --captcha", err)
	}
	return kind, captcha, a.Speed(ctx, s.Speed), nil
}

// newEngine wires the full replay stack for one invocation.
func (a *App) newEngine(ctx context.Context, s replaySettings, events notify.Publisher) (*engine.Engine, error) {
	kind, captcha, speed, err := a.resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	profile := timing.ComputeFrom(a.Config.TimingBase(), speed)
	op, err := a.newOperator(kind, profile)
	if err != nil {
		return nil, err
	}
	seq := backend.NewSequence(op, backend.Options{
		Timing:        profile,
		Captcha:       captcha,
		DetectTimeout: a.Config.DetectTimeout,
		Detector:      detect.New(a.FS, a.Config.OutputDir, a.Clock, a.Logger),
		Missing:       a.Missing,
		Clock:         a.Clock,
		Events:        events,
		Logger:        a.Logger,
	})

	engineOpts := []engine.Option{
		engine.WithClock(a.Clock),
		engine.WithEvents(events),
		engine.WithRecorder(a.Store),
		engine.WithLogger(a.Logger),
		engine.WithReliefEvery(a.Config.ReliefEvery),
		engine.WithSpeed(speed),
	}
	if a.opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDs(a.opts.RunIDs))
	}
	a.Logger.Info("replay configured", "backend", string(kind), "captcha", string(captcha), "speed", speed)
	return engine.New(seq, engineOpts...), nil
}

// supervise runs fn as the app's single active job and waits for it.
func (a *App) supervise(ctx context.Context, name string, fn func(context.Context) error) error {
	done, err := a.Supervisor.Go(ctx, name, fn)
	if err != nil {
		return err
	}
	return <-done
}

// isAbort reports whether err means the user stopped the job.
func isAbort(err error) bool {
	return errors.Is(err, capture.ErrAborted) || errors.Is(err, context.Canceled)
}
