// Package browser owns the Chrome process behind acquisition: launch,
// recycling on age or memory, and per-request isolated sessions.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string `yaml:"remote_url"`

	// Bin overrides the Chrome binary path.
	Bin string `yaml:"bin"`

	// Headful runs a visible Chrome on an Xvfb display. Some portals serve
	// a degraded page to headless clients.
	Headful bool `yaml:"headful"`

	// XvfbDisplay for headful mode. Default ":99".
	XvfbDisplay string `yaml:"xvfb_display"`

	// MemoryLimit in bytes of JS heap before a recycle. Default 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`

	// RecycleInterval is the maximum lifetime of a Chrome process. Default 4h.
	RecycleInterval time.Duration `yaml:"recycle_interval"`

	// ResourceBlocking lists resource types to block: images, fonts,
	// media, stylesheets or any CDP resource type name.
	ResourceBlocking []string `yaml:"resource_blocking"`

	// LiveDOM reads fields through CDP element queries instead of an HTML
	// snapshot. Slower, but sees shadow-free late mutations.
	LiveDOM bool `yaml:"live_dom"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.ResourceBlocking == nil {
		c.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages the Chrome lifecycle. Sessions are isolated incognito
// contexts on the shared process.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	active  int
	closed  bool
	// heapPeak is the largest JS heap sampled from a closing session since
	// the last launch.
	heapPeak int64
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches or connects to Chrome and starts the recycle monitor,
// which stops with ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)
	return nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

// NewSession opens an incognito context with one stealth page. The caller
// must Close the session.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed || m.browser == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser: no active browser")
	}
	b := m.browser
	m.active++
	m.mu.Unlock()

	s, err := openSession(ctx, b, m.cfg, m.release)
	if err != nil {
		m.release(0)
		return nil, err
	}
	return s, nil
}

func (m *Manager) release(heap int64) {
	m.mu.Lock()
	m.active--
	if heap > m.heapPeak {
		m.heapPeak = heap
	}
	m.mu.Unlock()
}

// recycleReason reports why Chrome should be restarted, or "".
func (m *Manager) recycleReason(now, startAt time.Time, heapPeak int64) string {
	switch {
	case now.Sub(startAt) > m.cfg.RecycleInterval:
		return "interval"
	case heapPeak > m.cfg.MemoryLimit:
		return "memory"
	}
	return ""
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Headful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New()
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Headful {
			l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("lang", "es-CL")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// recycleLocked restarts Chrome. Callers hold m.mu and have checked that
// no session is active.
func (m *Manager) recycleLocked() error {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	m.cleanup()
	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	m.heapPeak = 0
	log.Info("browser: recycled")
	return nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		if m.closed || m.browser == nil {
			m.mu.RUnlock()
			return
		}
		startAt, peak := m.startAt, m.heapPeak
		m.mu.RUnlock()

		reason := m.recycleReason(time.Now(), startAt, peak)
		if reason == "" {
			continue
		}
		if reason == "memory" {
			log.Info("browser: memory limit exceeded", "used", peak, "limit", m.cfg.MemoryLimit)
		}

		m.mu.Lock()
		switch {
		case m.closed:
		case m.active > 0:
			log.Debug("browser: recycle deferred", "reason", reason, "active", m.active)
		default:
			if err := m.recycleLocked(); err != nil {
				log.Error("browser: recycle failed", "reason", reason, "error", err)
			}
		}
		m.mu.Unlock()
	}
}
