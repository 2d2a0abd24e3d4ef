package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deskshell/internal/fingerprint"
	"deskshell/internal/shell"
	"deskshell/internal/version"
)

// Query parameters appended to every URL a page loads.
const (
	ParamPage   = "deskshell_page"
	ParamToken  = "deskshell_token"
	ParamBridge = "deskshell_bridge"
)

var (
	// ErrUnknownPage is returned for page ids the hub does not track.
	ErrUnknownPage = errors.New("unknown page")
	// ErrPageClosed is returned when delivering to a closed page.
	ErrPageClosed = errors.New("page closed")
)

// DefaultCloseGrace is how long a page that reported closing has to report
// loading again before it is treated as closed. Reloads and full navigations
// fire the close beacon too.
const DefaultCloseGrace = 3 * time.Second

// Opener displays a URL, typically in the system browser.
type Opener func(url string) error

// Hub tracks bridge-backed pages and acts as the shell's window factory.
type Hub struct {
	secret  []byte
	open    Opener
	log     zerolog.Logger
	baseURL string
	grace   time.Duration

	mu    sync.Mutex
	pages map[string]*Page
}

// NewHub creates a hub whose page tokens are keyed by secret.
func NewHub(secret []byte, open Opener, log zerolog.Logger) *Hub {
	if open == nil {
		open = OpenBrowser
	}
	return &Hub{
		secret: secret,
		open:   open,
		log:    log,
		grace:  DefaultCloseGrace,
		pages:  make(map[string]*Page),
	}
}

// SetCloseGrace changes the reload grace period. Zero closes pages at once.
func (h *Hub) SetCloseGrace(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grace = d
}

func (h *Hub) closeGrace() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grace
}

// SetBaseURL sets the bridge address pages are told to call back on.
func (h *Hub) SetBaseURL(u string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.baseURL = u
}

// NewWindow implements shell.Factory.
func (h *Hub) NewWindow(opts shell.Options) (shell.Window, error) {
	id := uuid.New().String()
	p := &Page{
		id:       id,
		token:    Token(id, h.secret),
		parentID: opts.ParentID,
		hub:      h,
		ua:       fmt.Sprintf("Mozilla/5.0 (%s; %s) deskshell/%s", runtime.GOOS, runtime.GOARCH, version.Semantic),
	}

	h.mu.Lock()
	h.pages[id] = p
	h.mu.Unlock()

	h.log.Debug().Str("page", id).Str("parent", opts.ParentID).Msg("Page registered")
	return p, nil
}

// Page returns a tracked page.
func (h *Hub) Page(id string) (*Page, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[id]
	if !ok {
		return nil, ErrUnknownPage
	}
	return p, nil
}

// Len returns the number of tracked pages.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pages)
}

func (h *Hub) remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.pages[id]; !ok {
		return false
	}
	delete(h.pages, id)
	return true
}

func (h *Hub) bridgeURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.baseURL
}

// Page is one dashboard window served through the bridge.
type Page struct {
	id       string
	token    string
	parentID string
	hub      *Hub

	mu         sync.Mutex
	ua         string
	protected  bool
	url        string
	loaded     bool
	closed     bool
	queue      []Message
	closeTimer *time.Timer
	finishLoad func()
	windowOpen func(string)
	onClosed   func()
}

// ID returns the page id carried in the page URL.
func (p *Page) ID() string { return p.id }

// Token returns the HMAC token the page authenticates with.
func (p *Page) Token() string { return p.token }

// ParentID returns the id of the page that opened this one, if any.
func (p *Page) ParentID() string { return p.parentID }

// UserAgent returns the user agent reported in delivered messages.
func (p *Page) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ua
}

// SetUserAgent replaces the user agent.
func (p *Page) SetUserAgent(ua string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ua = ua
}

// SetContentProtection records whether the page should block capture; it is
// passed to the page in every message.
func (p *Page) SetContentProtection(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.protected = enabled
}

// OnFinishLoad registers the callback run each time the page reports loading.
func (p *Page) OnFinishLoad(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLoad = fn
}

// OnWindowOpen registers the callback run when the page requests a popup.
func (p *Page) OnWindowOpen(fn func(url string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windowOpen = fn
}

// OnClosed registers the callback run once when the page closes.
func (p *Page) OnClosed(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClosed = fn
}

// URL returns the last URL loaded, including bridge parameters.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// LoadURL tags the target with the page id, token and bridge address, then
// hands it to the opener.
func (p *Page) LoadURL(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set(ParamPage, p.id)
	q.Set(ParamToken, p.token)
	if base := p.hub.bridgeURL(); base != "" {
		q.Set(ParamBridge, base)
	}
	u.RawQuery = q.Encode()

	p.mu.Lock()
	p.url = u.String()
	p.loaded = false
	p.mu.Unlock()

	p.hub.log.Info().Str("page", p.id).Str("url", target).Msg("Loading page")
	return p.hub.open(u.String())
}

// Deliver queues machine info for the page's next poll.
func (p *Page) Deliver(info fingerprint.MachineInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	msg := NewMachineInfoMessage(info, p.ua)
	msg.ContentProtection = p.protected
	p.queue = append(p.queue, msg)
	return nil
}

// Drain returns and clears queued messages. Each message is returned once.
func (p *Page) Drain() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.queue
	p.queue = nil
	return out
}

// HasLoaded reports whether the current URL has finished loading.
func (p *Page) HasLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Loaded is called when the page reports it finished loading. It cancels a
// close scheduled by CloseAfter, since the page has reloaded.
func (p *Page) Loaded() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.closeTimer != nil {
		p.closeTimer.Stop()
		p.closeTimer = nil
		p.hub.log.Debug().Str("page", p.id).Msg("Page reloaded")
	}
	p.loaded = true
	fn := p.finishLoad
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// RequestOpen is called when the page asks for a popup.
func (p *Page) RequestOpen(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("refusing to open %q", target)
	}

	p.mu.Lock()
	fn := p.windowOpen
	p.mu.Unlock()

	if fn != nil {
		fn(target)
	}
	return nil
}

// CloseAfter closes the page once d elapses unless it reports loading first.
func (p *Page) CloseAfter(d time.Duration) {
	if d <= 0 {
		p.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.closeTimer != nil {
		p.closeTimer.Stop()
	}
	p.loaded = false
	p.closeTimer = time.AfterFunc(d, p.Close)
}

// Close marks the page closed and notifies the shell once.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.closeTimer != nil {
		p.closeTimer.Stop()
		p.closeTimer = nil
	}
	p.queue = nil
	fn := p.onClosed
	p.mu.Unlock()

	p.hub.remove(p.id)
	p.hub.log.Debug().Str("page", p.id).Msg("Page closed")
	if fn != nil {
		fn()
	}
}
