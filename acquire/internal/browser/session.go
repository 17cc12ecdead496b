package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
)

// statusGrace is how long Navigate waits for the document response event
// after the navigation command returned.
const statusGrace = 500 * time.Millisecond

// Session is one incognito context with a single stealth page. It is not
// safe for concurrent navigation.
type Session struct {
	incognito *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	liveDOM   bool
	logger    *slog.Logger
	release   func(heap int64)
}

func openSession(ctx context.Context, b *rod.Browser, cfg Config, release func(heap int64)) (*Session, error) {
	incognito, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	page, err := stealth.Page(incognito)
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	s := &Session{
		incognito: incognito,
		page:      page,
		liveDOM:   cfg.LiveDOM,
		logger:    cfg.Logger,
		release:   release,
	}
	if len(cfg.ResourceBlocking) > 0 {
		router, err := blockResources(page, cfg.ResourceBlocking)
		if err != nil {
			cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
		s.router = router
	}
	return s, nil
}

// Navigate loads url and returns the status of the main document response.
func (s *Session) Navigate(ctx context.Context, url string) (int, error) {
	ectx, cancel := context.WithCancel(ctx)
	defer cancel()

	status := 0
	wait := s.page.Context(ectx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument && e.FrameID == s.page.FrameID {
			status = e.Response.Status
			return true
		}
		return false
	})
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	if err := s.page.Context(ctx).Navigate(url); err != nil {
		return 0, err
	}
	select {
	case <-done:
	case <-time.After(statusGrace):
		cancel()
		<-done
	}
	return status, nil
}

func (s *Session) WaitDOMReady(ctx context.Context) error {
	return s.page.Context(ctx).Wait(rod.Eval(`() => document.readyState !== "loading"`))
}

func (s *Session) WaitSelector(ctx context.Context, selector string) error {
	_, err := s.page.Context(ctx).Element(selector)
	return err
}

func (s *Session) ReadyState(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// WaitIdle returns nil once no request has been in flight for a second,
// or ctx's error when it ends first.
func (s *Session) WaitIdle(ctx context.Context) error {
	s.page.Context(ctx).WaitRequestIdle(time.Second, nil, nil, nil)()
	return ctx.Err()
}

// Info returns the rendered title and final URL.
func (s *Session) Info(ctx context.Context) (title, url string, err error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.Title, info.URL, nil
}

// Document returns the page as an extract.Node: a parsed HTML snapshot by
// default, or live CDP-backed elements when LiveDOM is set.
func (s *Session) Document(ctx context.Context) (extract.Node, error) {
	if s.liveDOM {
		return &liveNode{ctx: ctx, page: s.page}, nil
	}
	res, err := s.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	return extract.ParseHTMLString(res.Value.Str())
}

// heapUsage reads the page's used JS heap, or 0 when unavailable.
func (s *Session) heapUsage() int64 {
	res, err := s.page.Timeout(2 * time.Second).Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		s.logger.Debug("browser: heap sample failed", "error", err)
		return 0
	}
	return int64(res.Value.Int())
}

// Close releases the page, the hijack router and the incognito context.
// The page's JS heap is sampled first and reported to the manager.
func (s *Session) Close() error {
	var errs []error
	heap := s.heapUsage()
	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop router: %w", err))
		}
	}
	if err := s.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	if err := s.incognito.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	if s.release != nil {
		s.release(heap)
		s.release = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("browser: close session: %w", err)
	}
	return nil
}
