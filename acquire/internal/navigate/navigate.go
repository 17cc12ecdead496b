// Package navigate loads a page and waits, in stages, until it is probably
// usable. Every stage except the navigation itself is advisory: a stage
// that times out is logged and the next one runs. Whether the page is
// actually correct is decided later by validation.
package navigate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Page is the browser capability the controller drives.
type Page interface {
	// Navigate loads url and returns the main document's HTTP status, or 0
	// when it was not observed.
	Navigate(ctx context.Context, url string) (status int, err error)
	WaitDOMReady(ctx context.Context) error
	// WaitSelector blocks until selector matches or ctx ends.
	WaitSelector(ctx context.Context, selector string) error
	// ReadyState returns document.readyState.
	ReadyState(ctx context.Context) (string, error)
	// WaitIdle blocks until network activity settles or ctx ends.
	WaitIdle(ctx context.Context) error
}

// ErrStillLoading is an attempt failure: the document never left "loading".
var ErrStillLoading = errors.New("navigate: document still loading")

// Config holds stage timeouts.
type Config struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	DOMReadyTimeout time.Duration `yaml:"dom_ready_timeout"`
	SelectorTimeout time.Duration `yaml:"selector_timeout"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	Logger          *slog.Logger  `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.DOMReadyTimeout <= 0 {
		c.DOMReadyTimeout = 10 * time.Second
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = 5 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 1500 * time.Millisecond
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Outcome reports what Load achieved.
type Outcome struct {
	// Completed is true when an attempt got through the ready-state check.
	Completed bool
	// Navigated is true when at least one navigation succeeded at the
	// transport level. When false, Err holds the last transport error.
	Navigated bool
	Status    int
	Attempts  int
	// Matched is the critical selector that won the race, if any.
	Matched string
	Err     error
}

// Controller runs the staged wait.
type Controller struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller.
func New(cfg Config) *Controller {
	cfg.defaults()
	return &Controller{cfg: cfg, sleep: sleepCtx}
}

// Load navigates page to url and runs the staged wait, retrying the whole
// sequence up to MaxAttempts times. It never panics and always returns an
// Outcome; running out of attempts is not fatal by itself.
func (c *Controller) Load(ctx context.Context, page Page, url string, critical []string) Outcome {
	log := c.cfg.Logger.With("url", url)
	var out Outcome
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				out.Err = err
				return out
			}
		}

		nctx, cancel := context.WithTimeout(ctx, c.cfg.NavigateTimeout)
		status, err := page.Navigate(nctx, url)
		cancel()
		if err != nil {
			out.Err = fmt.Errorf("navigate: attempt %d: %w", attempt, err)
			log.Warn("navigate: navigation failed", "attempt", attempt, "error", err)
			continue
		}
		out.Navigated = true
		out.Status = status
		out.Err = nil

		// An error status is final; waiting for content would only delay
		// the rejection.
		if status >= 400 {
			out.Completed = true
			log.Debug("navigate: error status, skipping staged wait", "status", status)
			return out
		}

		if err := c.stage(ctx, c.cfg.DOMReadyTimeout, page.WaitDOMReady); err != nil {
			log.Debug("navigate: dom ready not observed", "attempt", attempt, "error", err)
		}

		out.Matched = c.race(ctx, page, critical)
		if out.Matched == "" && len(critical) > 0 {
			log.Debug("navigate: no critical selector matched", "attempt", attempt)
		}

		if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
			out.Err = err
			return out
		}

		rctx, cancel := context.WithTimeout(ctx, c.cfg.DOMReadyTimeout)
		state, err := page.ReadyState(rctx)
		cancel()
		if err == nil && state != "loading" {
			if err := c.stage(ctx, c.cfg.IdleTimeout, page.WaitIdle); err != nil {
				log.Debug("navigate: network not idle", "error", err)
			}
			out.Completed = true
			log.Debug("navigate: loaded", "attempt", attempt, "status", status, "ready_state", state, "matched", out.Matched)
			return out
		}
		if err != nil {
			out.Err = fmt.Errorf("navigate: ready state: %w", err)
		} else {
			out.Err = ErrStillLoading
		}
		log.Warn("navigate: attempt incomplete", "attempt", attempt, "error", out.Err)
	}
	return out
}

func (c *Controller) stage(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(sctx)
}

// race waits for the first critical selector to match. Each selector has
// its own timeout; the winner cancels the rest.
func (c *Controller) race(ctx context.Context, page Page, selectors []string) string {
	if len(selectors) == 0 {
		return ""
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		selector string
		err      error
	}
	results := make(chan result, len(selectors))
	for _, sel := range selectors {
		go func() {
			sctx, scancel := context.WithTimeout(rctx, c.cfg.SelectorTimeout)
			defer scancel()
			results <- result{sel, page.WaitSelector(sctx, sel)}
		}()
	}
	for range selectors {
		r := <-results
		if r.err == nil {
			return r.selector
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
