// Package shell orchestrates dashboard windows: fingerprinting, user agent,
// popup handling and the one-shot hand-off of machine info to the page.
package shell

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"deskshell/internal/fingerprint"
	"deskshell/internal/lifecycle"
	"deskshell/internal/metrics"
)

// ErrQuitting is returned when a window is requested after quit has begun.
var ErrQuitting = errors.New("shell is quitting")

// Config controls how dashboard windows are created.
type Config struct {
	DashboardURL      string
	UserAgentSuffix   string
	Width             int
	Height            int
	ContentProtection bool
	DevTools          bool
	// Platform decides whether closing the last window quits (everything but darwin).
	Platform string
}

// Options are passed to the window factory.
type Options struct {
	Width    int
	Height   int
	ParentID string
	DevTools bool
}

// Window is a single dashboard window provided by a backend.
type Window interface {
	ID() string
	LoadURL(url string) error
	UserAgent() string
	SetUserAgent(ua string)
	SetContentProtection(enabled bool)
	OnFinishLoad(fn func())
	OnWindowOpen(fn func(url string))
	OnClosed(fn func())
	Deliver(info fingerprint.MachineInfo) error
	Close()
}

// Factory creates backend windows.
type Factory interface {
	NewWindow(opts Options) (Window, error)
}

// Option customises a Shell.
type Option func(*Shell)

// WithCollector replaces the live fingerprint collector.
func WithCollector(fn func() fingerprint.MachineInfo) Option {
	return func(s *Shell) { s.collect = fn }
}

// WithMetrics records fingerprint and delivery counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Shell) { s.metrics = m }
}

// Shell owns the set of open windows.
type Shell struct {
	cfg     Config
	factory Factory
	machine *lifecycle.Machine
	collect func() fingerprint.MachineInfo
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	windows map[string]Window
}

// New returns a Shell bound to the given backend and lifecycle.
func New(cfg Config, factory Factory, machine *lifecycle.Machine, log zerolog.Logger, opts ...Option) *Shell {
	if cfg.Width == 0 {
		cfg.Width = 1200
	}
	if cfg.Height == 0 {
		cfg.Height = 800
	}
	if cfg.Platform == "" {
		cfg.Platform = fingerprint.Platform()
	}

	s := &Shell{
		cfg:     cfg,
		factory: factory,
		machine: machine,
		collect: fingerprint.Collect,
		log:     log,
		windows: make(map[string]Window),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateWindow opens a dashboard window. Machine info is computed fresh and
// delivered to the page once, after it reports it has finished loading.
func (s *Shell) CreateWindow() (Window, error) {
	if s.machine.State() == lifecycle.Quitting {
		return nil, ErrQuitting
	}

	info := s.collect()
	if s.metrics != nil {
		s.metrics.Fingerprints.Inc()
	}

	win, err := s.newWindow(Options{
		Width:    s.cfg.Width,
		Height:   s.cfg.Height,
		DevTools: s.cfg.DevTools,
	})
	if err != nil {
		return nil, err
	}

	win.OnWindowOpen(func(url string) {
		if _, err := s.openChild(win, url); err != nil {
			s.log.Error().Err(err).Str("parent", win.ID()).Str("url", url).Msg("Failed to open child window")
		}
	})

	var once sync.Once
	win.OnFinishLoad(func() {
		once.Do(func() { s.deliver(win, info) })
	})

	s.log.Info().
		Str("window", win.ID()).
		Str("machine_id", info.MachineID).
		Str("url", s.cfg.DashboardURL).
		Msg("Window created")

	if err := win.LoadURL(s.cfg.DashboardURL); err != nil {
		return win, fmt.Errorf("loading %s: %w", s.cfg.DashboardURL, err)
	}
	return win, nil
}

// openChild opens a popup as a child of parent with the same options.
func (s *Shell) openChild(parent Window, url string) (Window, error) {
	child, err := s.newWindow(Options{
		Width:    s.cfg.Width,
		Height:   s.cfg.Height,
		ParentID: parent.ID(),
		DevTools: s.cfg.DevTools,
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("parent", parent.ID()).Str("window", child.ID()).Str("url", url).Msg("Child window opened")

	if err := child.LoadURL(url); err != nil {
		return child, fmt.Errorf("loading %s: %w", url, err)
	}
	return child, nil
}

func (s *Shell) newWindow(opts Options) (Window, error) {
	win, err := s.factory.NewWindow(opts)
	if err != nil {
		return nil, fmt.Errorf("creating window: %w", err)
	}

	win.SetContentProtection(s.cfg.ContentProtection)
	if s.cfg.UserAgentSuffix != "" {
		win.SetUserAgent(win.UserAgent() + " " + s.cfg.UserAgentSuffix)
	}

	id := win.ID()
	win.OnClosed(func() { s.WindowClosed(id) })

	s.mu.Lock()
	s.windows[id] = win
	s.mu.Unlock()
	return win, nil
}

func (s *Shell) deliver(win Window, info fingerprint.MachineInfo) {
	if err := win.Deliver(info); err != nil {
		s.log.Error().Err(err).Str("window", win.ID()).Msg("Failed to deliver machine info")
		if s.metrics != nil {
			s.metrics.BridgeMessages.WithLabelValues("error").Inc()
		}
		return
	}
	s.log.Debug().Str("window", win.ID()).Msg("Machine info delivered")
	if s.metrics != nil {
		s.metrics.BridgeMessages.WithLabelValues("queued").Inc()
	}
}

// WindowClosed forgets a window. When the last one closes the shell quits,
// except on darwin where the app stays alive until activated or quit.
func (s *Shell) WindowClosed(id string) {
	s.mu.Lock()
	if _, ok := s.windows[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.windows, id)
	remaining := len(s.windows)
	s.mu.Unlock()

	s.log.Debug().Str("window", id).Int("remaining", remaining).Msg("Window closed")

	if remaining == 0 && s.cfg.Platform != "darwin" {
		if _, err := s.machine.Fire(lifecycle.AllWindowsClosed); err != nil {
			s.log.Warn().Err(err).Msg("Ignoring all-windows-closed")
		}
	}
}

// Activate creates a window if none are open.
func (s *Shell) Activate() error {
	if s.Windows() > 0 {
		return nil
	}
	_, err := s.CreateWindow()
	return err
}

// Windows returns the number of open windows.
func (s *Shell) Windows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Done is closed when the lifecycle reaches Quitting.
func (s *Shell) Done() <-chan struct{} {
	return s.machine.Done()
}

// CloseAll closes every open window.
func (s *Shell) CloseAll() {
	s.mu.Lock()
	wins := make([]Window, 0, len(s.windows))
	for _, w := range s.windows {
		wins = append(wins, w)
	}
	s.mu.Unlock()

	for _, w := range wins {
		w.Close()
	}
}

// Quit requests shutdown through the lifecycle.
func (s *Shell) Quit() error {
	_, err := s.machine.Fire(lifecycle.QuitRequested)
	return err
}
