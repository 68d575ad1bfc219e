package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"sofascraper/internal/config"
	"sofascraper/internal/domain"
)

// Session is the driver boundary the rest of the module programs against: a
// browser routed through at most one SOCKS5 exit node, able to render a URL
// and hand back the JSON its body contains.
type Session interface {
	Navigate(url string) error
	ExtractJSON() (map[string]any, error)
	Close() error
}

// SessionFactory builds a fresh Session bound to the given proxy. A nil
// proxy means a direct (unproxied) session. Construction may fail when the
// browser cannot launch through the chosen relay.
type SessionFactory func(proxy *domain.ProxyRecord) (Session, error)

// NewFactory returns a SessionFactory producing rod-backed sessions.
func NewFactory(cfg config.Config) SessionFactory {
	return func(proxy *domain.ProxyRecord) (Session, error) {
		return NewRodSession(cfg, proxy)
	}
}

// RodSession drives a dedicated headless Chrome via go-rod. Each session
// owns its own browser process so that a proxy swap is a clean teardown and
// relaunch rather than in-place reconfiguration.
type RodSession struct {
	cfg      config.Config
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	mu     sync.Mutex
	closed bool
}

func NewRodSession(cfg config.Config, proxy *domain.ProxyRecord) (*RodSession, error) {
	l := launcher.New().
		Headless(cfg.Browser.Headless).
		Leakless(true)

	if proxy != nil {
		// Force DNS through the tunnel; only the relay itself resolves locally.
		l = l.Proxy(proxy.ProxyURL).
			Set("host-resolver-rules", fmt.Sprintf("MAP * ~NOTFOUND , EXCLUDE %s", proxy.RelayAddress))
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := stealth.Page(b)
	if err != nil {
		_ = b.Close()
		l.Cleanup()
		return nil, fmt.Errorf("stealth page: %w", err)
	}

	hostname := "direct"
	if proxy != nil {
		hostname = proxy.Hostname
	}
	log.Debug("Browser session started", "exit", hostname)

	return &RodSession{cfg: cfg, launcher: l, browser: b, page: page}, nil
}

func (s *RodSession) Navigate(url string) error {
	page := s.page.Timeout(s.cfg.PageLoadTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// ExtractJSON reads document.body.innerText from the current page and
// unmarshals it. An empty body yields (nil, nil) so callers can tell "no
// content" apart from a malformed payload.
func (s *RodSession) ExtractJSON() (map[string]any, error) {
	obj, err := s.page.Timeout(s.cfg.PageLoadTimeout()).Eval(`() => document.body.innerText`)
	if err != nil {
		return nil, fmt.Errorf("read page body: %w", err)
	}

	text := strings.TrimSpace(obj.Value.Str())
	if text == "" {
		return nil, nil
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("parse page body as JSON: %w", err)
	}
	return payload, nil
}

// Close tears down the page, browser and launcher. Safe to call more than
// once.
func (s *RodSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = rod.Try(func() { s.page.MustClose() })
	err := s.browser.Close()
	s.launcher.Cleanup()

	log.Debug("Browser session closed")
	return err
}
