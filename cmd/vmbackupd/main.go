package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/valvemist/vmbackup/backup"
	"github.com/valvemist/vmbackup/control"
	"github.com/valvemist/vmbackup/eventloop"
	"github.com/valvemist/vmbackup/fsfreeze"
	"github.com/valvemist/vmbackup/qemu"
	"github.com/valvemist/vmbackup/scripts"
)

var logger *slog.Logger

type customHandler struct {
	level slog.Leveler
}

// Enabled determines whether the customHandler should log messages at the given level.
func (h *customHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	return lvl >= h.level.Level()
}

// Handle processes a log record using the customHandler.
func (h *customHandler) Handle(_ context.Context, r slog.Record) error {
	fmt.Printf("[%s] %s", r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Printf(" %s=%v", a.Key, a.Value)
		return true
	})
	// Include file and line number
	src := r.Source()
	if src != nil {
		fmt.Printf(" (%s:%d)", filepath.Base(src.File), src.Line)
	}

	fmt.Println()
	return nil
}

// WithAttrs returns a new handler with the given attributes.
func (h *customHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// WithGroup returns a new handler with the given group name.
func (h *customHandler) WithGroup(_ string) slog.Handler { return h }

func parseFlags() (verbose bool, configPath string) {
	flag.BoolVar(&verbose, "v", false, "Verbose output")
	flag.StringVar(&configPath, "config", "/etc/vmbackup/vmbackupd.yaml", "Path to the daemon configuration (empty for defaults)")
	flag.Parse()
	return
}

func setLoggers(l *slog.Logger) {
	backup.SetLogger(l)
	qemu.SetLogger(l)
	fsfreeze.SetLogger(l)
	scripts.SetLogger(l)
	control.SetLogger(l)
}

// newProvider builds the sync provider selected in cfg.
func newProvider(cfg ProviderConfig) (backup.SyncProvider, error) {
	switch cfg.Type {
	case ProviderFsFreeze:
		return fsfreeze.New(fsfreeze.Config{FSTypes: cfg.FSTypes}), nil
	case ProviderQemu:
		monitor, err := qmp.NewSocketMonitor("unix", cfg.Socket, cfg.DialTimeout)
		if err != nil {
			return nil, errors.Annotate(err, "failed to connect to QMP")
		}
		if err := monitor.Connect(); err != nil {
			return nil, errors.Annotate(err, "QMP handshake")
		}
		return qemu.New(monitor, qemu.Config{
			PauseTimeout: cfg.PauseTimeout,
			SyncGuest:    cfg.SyncGuest,
		}), nil
	}
	return nil, errors.NotValidf("provider type %q", cfg.Type)
}

// main is the entry point for the backup daemon.
func main() {
	// catch ctrl-c
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	level := new(slog.LevelVar)
	logger = slog.New(&customHandler{level: level})
	setLoggers(logger)

	verbose, configPath := parseFlags()
	if verbose {
		level.Set(slog.LevelDebug)
	}

	if err := run(configPath, sigs); err != nil {
		logger.Error("vmbackupd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Program finished.")
}

func run(configPath string, sigs <-chan os.Signal) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}

	loop := eventloop.New(clock.WallClock)
	var orch *backup.Orchestrator
	server := control.NewServer(func(ctx context.Context, command, args string) backup.Result {
		var result backup.Result
		if err := loop.Call(ctx, func() { result = orch.Handle(command, args) }); err != nil {
			return backup.Result{Message: "Service unavailable.", Err: err}
		}
		return result
	}, cfg.Token)

	orch, err = backup.NewOrchestrator(backup.Config{
		Scheduler: loop,
		Scripts: &scripts.Runner{
			Dir:          cfg.Scripts.Dir,
			LegacyFreeze: cfg.Scripts.LegacyFreeze,
			LegacyThaw:   cfg.Scripts.LegacyThaw,
			Timeout:      cfg.Scripts.Timeout,
		},
		Provider:        provider,
		Events:          server,
		Targets:         backup.FileTargets{Path: cfg.TargetsFile()},
		PollPeriod:      cfg.Backup.PollPeriod,
		SlowPollPeriod:  cfg.Backup.SlowPollPeriod,
		KeepAlivePeriod: cfg.Backup.KeepAlivePeriod,
	})
	if err != nil {
		provider.Release()
		return errors.Trace(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			logger.Error("event loop stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	httpServer := &http.Server{Addr: cfg.Listen, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Listen, "provider", cfg.Provider.Type)
		serveErr <- httpServer.ListenAndServe()
	}()

	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := loop.Call(shutdownCtx, orch.Shutdown); err != nil {
			logger.Error("shutdown did not complete", "error", err)
		}
		_ = httpServer.Shutdown(shutdownCtx)
		server.Close()
		cancel()
		wg.Wait()
	}()

	logger.Debug("Entering select loop")
	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Annotate(err, "control server")
	case sig := <-sigs:
		logger.Info("Interrupt received", "signal", sig)
		return nil
	}
}
