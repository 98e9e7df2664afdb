package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os/signal"
	"syscall"

	"keymapd/internal/config"
	"keymapd/internal/device"
	"keymapd/internal/engine"
	"keymapd/internal/ipc"
	"keymapd/internal/logging"
	"keymapd/internal/output"
	"keymapd/internal/state"
	"keymapd/internal/store"
	"keymapd/internal/window"
)

type runOptions struct {
	configPath string
	inputDir   string
	verbose    bool
	watch      bool
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var opts runOptions
	fs.StringVar(&opts.configPath, "config", "", "main configuration file")
	fs.StringVar(&opts.inputDir, "input-dir", device.InputDir, "directory of event device nodes")
	fs.BoolVar(&opts.verbose, "verbose", false, "log every event at debug level")
	fs.BoolVar(&opts.watch, "watch", true, "reload the configuration when it changes")
	fs.Parse(args)

	if err := run(opts); err != nil {
		fatal(err)
	}
}

func run(opts runOptions) error {
	cfg, _, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return err
	}
	if opts.verbose {
		logCfg.Level = logging.LevelDebug
	}
	// Every package adds its own component attribute.
	logCfg.Component = ""
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	loader := config.NewLoader(opts.configPath, log)
	_, compiled, err := loader.Load()
	if err != nil {
		return err
	}
	log.Info("starting", "version", Version, "config", loader.Path(), "files", compiled.Files)

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		Version:   Version,
		Component: "keymapd",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, persister, err := runtimeContext(cfg, compiled, log)
	if err != nil {
		return err
	}
	if persister != nil {
		defer func() {
			if err := persister.Close(); err != nil {
				log.Warn("close settings store", "error", err)
			}
		}()
	}

	vk, err := output.CreateVirtualKeyboard()
	if err != nil {
		return err
	}
	writer := output.NewWriter(vk, compiled.Engine.Delays, log)
	defer writer.Close()

	devices := device.NewManager(device.Open, compiled.Engine.Filter, log)

	var hotplug <-chan device.Hotplug
	if monitor, err := device.NewMonitor(opts.inputDir, device.DefaultSettle, log); err != nil {
		log.Warn("hotplug disabled", "error", err)
	} else {
		defer monitor.Close()
		go monitor.Run(ctx)
		hotplug = monitor.Events()
	}

	provider, err := window.New(compiled.Provider)
	if err != nil {
		return err
	}
	tracker := window.NewTracker(provider, compiled.Window, log)
	go tracker.Run(ctx)

	eng := engine.New(engine.Options{
		Config:   compiled.Engine,
		Devices:  devices,
		InputDir: opts.inputDir,
		Sink:     writer,
		Context:  rt,
		Hotplug:  hotplug,
		Window:   tracker.Changes(),
		Logger:   log,
	})

	var handler *ipc.DaemonHandler
	if cfg.Control.Enabled {
		var history ipc.HistoryFunc
		if persister != nil {
			history = persister.History
		}
		handler = ipc.NewDaemonHandler(ipc.HandlerConfig{
			Controller: eng,
			History:    history,
			Reload: func(ctx context.Context) (*config.Compiled, error) {
				if err := loader.Reload(); err != nil {
					return nil, err
				}
				return loader.Compiled(), nil
			},
			Version:    Version,
			ConfigPath: loader.Path(),
			Files:      func() []string { return loader.Compiled().Files },
			Logger:     log,
		})
		handler.SetOverride(compiled.Engine.KeyboardType)

		socket := cfg.Control.SocketPath
		if socket == "" {
			socket = config.DefaultSocketPath()
		}
		srv := ipc.NewServer(ipc.ServerConfig{SocketPath: socket, Logger: log}, handler)
		if err := srv.Start(); err != nil {
			if errors.Is(err, ipc.ErrAlreadyRunning) {
				return err
			}
			log.Warn("control socket disabled", "error", err)
		} else {
			defer srv.Stop()
		}
	}

	loader.OnChange(func(_ *config.Config, c *config.Compiled) {
		if err := eng.Reload(ctx, c.Engine); err != nil {
			log.Warn("apply configuration", "error", err)
			return
		}
		if handler != nil {
			handler.SetOverride(c.Engine.KeyboardType)
		}
	})
	if opts.watch {
		if err := loader.Watch(ctx); err != nil {
			log.Warn("configuration watch disabled", "error", err)
		}
	}

	err = crash.Guard(map[string]any{"command": "run"}, func() error {
		return eng.Run(ctx)
	})
	cancel()

	switch {
	case errors.Is(err, engine.ErrEjected):
		log.Warn("emergency eject: all keyboards released")
		return nil
	case errors.Is(err, device.ErrNoKeyboards):
		return fmt.Errorf("%w (is the user in the input group?)", err)
	case err != nil:
		return err
	}
	log.Info("stopped")
	return nil
}

// runtimeContext builds the runtime context, seeding the settings flags
// from the configuration and, when persistence is on, restoring saved values
// from the database. The persister is nil when persistence is off.
func runtimeContext(cfg *config.Config, compiled *config.Compiled, log *slog.Logger) (*state.Context, *store.Persister, error) {
	rt := state.New(maps.Clone(compiled.Settings))
	if !cfg.Persistence.Enabled {
		return rt, nil, nil
	}

	path := cfg.Persistence.Path
	if path == "" {
		path = config.DefaultDatabasePath()
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open settings store: %w", err)
	}
	saved, err := st.LoadSettings()
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	rt.RestoreSettings(saved)
	log.Info("settings restored", "path", path, "count", len(saved))

	p := store.NewPersister(st, log)
	rt.SetSink(p)
	return rt, p, nil
}
