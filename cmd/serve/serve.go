// Package serve implements the deskshell serve command: the long-running shell.
package serve

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"deskshell/internal/bridge"
	"deskshell/internal/control"
	"deskshell/internal/fingerprint"
	"deskshell/internal/lifecycle"
	"deskshell/internal/metrics"
	"deskshell/internal/shell"
	"deskshell/internal/store"
	"deskshell/internal/updater"
	"deskshell/internal/version"
	"deskshell/pkg/config"
	"deskshell/pkg/logger"
)

// Options configures Run.
type Options struct {
	ConfigPath string
	// NoBrowser logs page URLs instead of handing them to the system browser.
	NoBrowser bool
}

// Run starts the shell and blocks until it quits.
func Run(opts Options) error {
	cfg, err := config.Discover(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level)

	running, err := activateRunning(cfg.Control.Socket)
	if running {
		if err == nil {
			log.Info().Str("socket", cfg.Control.Socket).Msg("deskshell is already running; window activated")
		}
		return err
	}

	interval, err := cfg.Update.ParseInterval()
	if err != nil {
		return fmt.Errorf("parsing interval: %w", err)
	}

	for _, dir := range []string{filepath.Dir(cfg.Update.DBPath), filepath.Dir(cfg.Control.Socket), cfg.Update.DownloadDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := store.New(cfg.Update.DBPath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	secret, err := bridgeSecret(cfg.Bridge.Secret)
	if err != nil {
		return err
	}

	m := metrics.New()
	machine := lifecycle.New()
	machine.Observe(func(tr lifecycle.Transition) {
		m.LifecycleState.Set(float64(tr.To))
		log.Info().
			Str("from", tr.From.String()).
			Str("to", tr.To.String()).
			Str("event", tr.Event.String()).
			Msg("Lifecycle transition")
	})

	opener := bridge.OpenBrowser
	if opts.NoBrowser {
		opener = func(url string) error {
			log.Info().Str("url", url).Msg("Open this page in a browser")
			return nil
		}
	}
	hub := bridge.NewHub(secret, opener, log)

	allowed := cfg.Bridge.AllowedOrigin
	if allowed == "" {
		allowed = cfg.Origin()
	}
	srv := bridge.NewServer(cfg.Bridge.Listen, cfg.Bridge.MaxConns, allowed, hub, m, log)
	baseURL, err := srv.Listen()
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	hub.SetBaseURL(baseURL)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(); err != nil {
			errCh <- fmt.Errorf("bridge server: %w", err)
		}
	}()

	sh := shell.New(shell.Config{
		DashboardURL:      cfg.Shell.DashboardURL,
		UserAgentSuffix:   cfg.Shell.UserAgentSuffix,
		Width:             cfg.Shell.Width,
		Height:            cfg.Shell.Height,
		ContentProtection: cfg.Shell.ProtectContent(),
		DevTools:          cfg.Shell.DevTools,
	}, hub, machine, log, shell.WithMetrics(m))

	up, err := updater.New(updater.Config{
		FeedURL:     cfg.Update.FeedURL,
		PublicKey:   cfg.Update.PublicKey,
		DownloadDir: cfg.Update.DownloadDir,
		Current:     version.Semantic,
	}, db, machine, m, log)
	if err != nil {
		return fmt.Errorf("configuring updater: %w", err)
	}
	if rec, err := up.Resume(); err != nil {
		log.Warn().Err(err).Msg("Failed to resume pending update")
	} else if rec != nil {
		log.Info().Str("version", rec.Version).Msg("Update downloaded and waiting for install")
	}

	inst := &instance{shell: sh, machine: machine}
	ctl, err := control.StartServer(cfg.Control.Socket, inst, log)
	if err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer ctl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Update.FeedURL != "" {
		go up.Run(ctx, interval, cfg.Update.ShouldAutoDownload())
	} else {
		log.Debug().Msg("No update feed configured")
	}

	log.Info().
		Str("dashboard", cfg.Shell.DashboardURL).
		Str("bridge", baseURL).
		Str("version", version.Semantic).
		Msg("Starting deskshell")

	if _, err := sh.CreateWindow(); err != nil {
		return fmt.Errorf("creating window: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sh.Done():
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		if err := sh.Quit(); err != nil {
			log.Warn().Err(err).Msg("Quit rejected")
		}
	case runErr = <-errCh:
	}
	cancel()
	sh.CloseAll()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Bridge shutdown")
	}

	if machine.InstallOnQuit() {
		if _, err := up.Apply(); err != nil && !errors.Is(err, updater.ErrNothingPending) {
			log.Error().Err(err).Msg("Failed to apply update")
		}
	}
	return runErr
}

func bridgeSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating bridge secret: %w", err)
	}
	return secret, nil
}

// activateRunning asks an instance already listening on socket to show a
// window. It reports false when nothing is listening.
func activateRunning(socket string) (bool, error) {
	client, err := control.NewClient(socket)
	if err != nil {
		return false, nil
	}
	defer client.Close()

	if _, err := client.Activate(); err != nil {
		return true, fmt.Errorf("activating running instance: %w", err)
	}
	return true, nil
}

// instance adapts the running shell to the control service.
type instance struct {
	shell   *shell.Shell
	machine *lifecycle.Machine
}

func (i *instance) State() lifecycle.State { return i.machine.State() }
func (i *instance) Windows() int           { return i.shell.Windows() }
func (i *instance) MachineID() string      { return fingerprint.Collect().MachineID }
func (i *instance) Quit() error            { return i.shell.Quit() }
func (i *instance) Activate() error        { return i.shell.Activate() }

func (i *instance) Install() error {
	_, err := i.machine.Fire(lifecycle.InstallRequested)
	return err
}
