// Package acquire turns a portal URL or search criteria into validated
// extraction results.
//
// Every request runs the same sequence: cache lookup, then on a miss a
// browser session in an isolated context, a staged navigation, response
// validation, field extraction and content validation. Accepted results
// are cached. Rejections come back as a single *failure.Record.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/browser"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/extract"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/navigate"
	"github.com/notbrokker/notbrokker-property-api-sub001/acquire/internal/validate"
	"github.com/notbrokker/notbrokker-property-api-sub001/cache"
	"github.com/notbrokker/notbrokker-property-api-sub001/failure"
	"github.com/notbrokker/notbrokker-property-api-sub001/idgen"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
	"github.com/notbrokker/notbrokker-property-api-sub001/urlguard"
)

// Result is one extracted listing.
type Result = extract.Result

// stepTimeout bounds browser calls outside the staged wait.
const stepTimeout = 15 * time.Second

const (
	opExtract = "extract"
	opSearch  = "search"
)

// Service is safe for concurrent use.
type Service struct {
	cfg      Config
	browser  Browser
	cache    *cache.Layer
	registry *portal.Registry
	nav      *navigate.Controller
	ext      *extract.Extractor
	guard    urlguard.Guard
	sem      *semaphore.Weighted
	ids      idgen.Generator
	metrics  *metrics
	logger   *slog.Logger
	now      func() time.Time
	closers  []func() error

	// onDone observes finished runs.
	onDone func(*run)
}

// New builds a Service on top of an existing browser and cache layer. A
// nil layer gets a local-only cache built from cfg.Cache.
func New(cfg Config, b Browser, layer *cache.Layer) *Service {
	cfg.defaults()
	if layer == nil {
		layer = cache.New(cfg.cacheConfig(nil))
	}
	return &Service{
		cfg:      cfg,
		browser:  b,
		cache:    layer,
		registry: cfg.Registry,
		nav:      navigate.New(cfg.Navigation),
		ext:      extract.New(cfg.Logger),
		guard:    urlguard.Guard{AllowPrivate: cfg.AllowPrivateHosts},
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		ids:      idgen.Prefixed("req_", idgen.UUIDv7()),
		metrics:  newMetrics(cfg.Registerer),
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Open builds the configured cache tiers, starts the browser and returns
// a ready Service. ctx must outlive the Service: it stops the browser
// recycle monitor.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	cfg.defaults()
	tier, err := openTier(cfg.Cache.Distributed)
	if err != nil {
		return nil, err
	}
	layer := cache.New(cfg.cacheConfig(tier))

	m := browser.NewManager(cfg.Browser)
	if err := m.Start(ctx); err != nil {
		if cerr := layer.Close(); cerr != nil {
			cfg.Logger.Warn("acquire: close cache", "error", cerr)
		}
		return nil, fmt.Errorf("acquire: start browser: %w", err)
	}

	s := New(cfg, rodBrowser{m: m}, layer)
	s.closers = append(s.closers, m.Close, layer.Close)
	s.logger.Info("acquire: service ready",
		"max_concurrent", cfg.MaxConcurrent,
		"cache_backend", layer.Backend(),
	)
	return s, nil
}

func openTier(cfg DistributedConfig) (cache.Tier, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisTier(cfg.Redis), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "propacq-cache.db"
		}
		t, err := cache.OpenSQLiteTier(path)
		if err != nil {
			return nil, fmt.Errorf("acquire: open sqlite cache: %w", err)
		}
		return t, nil
	default:
		return nil, nil
	}
}

// Close stops the browser and closes the cache.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Config returns the effective configuration, defaults applied.
func (s *Service) Config() Config { return s.cfg }

// Cache exposes the cache layer for inspection and invalidation.
func (s *Service) Cache() *cache.Layer { return s.cache }

// Registry returns the portal profiles in use.
func (s *Service) Registry() *portal.Registry { return s.registry }

// ClassifyPortal returns the portal that owns rawURL, or portal.Unknown.
func (s *Service) ClassifyPortal(rawURL string) portal.ID {
	return s.registry.Classify(rawURL)
}

// Extract acquires one listing. A returned error is always a
// *failure.Record.
func (s *Service) Extract(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	r := s.begin(opExtract, rawURL, s.registry.Classify(rawURL))
	res, err := s.extract(ctx, r)
	s.end(r, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) extract(ctx context.Context, r *run) (*Result, error) {
	if _, err := s.guard.Check(r.req.URL); err != nil {
		return nil, s.fail(r, err)
	}

	r.to(StateCacheLookup)
	key := cache.Fingerprint(cache.CategoryExtraction, cache.Request{Method: http.MethodGet, URL: r.req.URL})
	cached, e, ok, err := cache.GetJSON[Result](ctx, s.cache, cache.CategoryExtraction, key)
	if err != nil {
		r.logger.Warn("acquire: discarded cached result", "error", err)
	}
	if ok {
		r.to(StateCacheHit)
		r.logger.Debug("acquire: cache hit", "tier", e.Tier)
		r.to(StateDone)
		return &cached, nil
	}
	r.to(StateCacheMiss)

	p := s.registry.Profile(r.req.Portal)
	var res Result
	err = s.load(ctx, r, p, r.req.URL, func(ctx context.Context, doc extract.Node, pageURL string) error {
		res = s.ext.Extract(ctx, doc, p, pageURL)
		r.to(StateContentValidating)
		report, err := validate.Content(res)
		if err != nil {
			return err
		}
		r.logger.Debug("acquire: content accepted", "useful", report.UsefulFound, "missing", report.Missing)
		res.Success = true
		return nil
	})
	if err != nil {
		return nil, s.fail(r, err)
	}

	r.to(StateCacheStore)
	if err := cache.SetJSON(ctx, s.cache, cache.CategoryExtraction, key, res, 0); err != nil {
		r.logger.Warn("acquire: cache store failed", "error", err)
	}
	r.to(StateDone)
	return &res, nil
}

// load waits for a session slot, opens an isolated session, runs the
// staged navigation and response validation, then hands the document to
// use. The session is closed on every path.
//
// ctx bounds the wait for a slot only. Once a session is open the request
// runs to completion under the per-stage timeouts.
func (s *Service) load(ctx context.Context, r *run, p portal.Profile, target string, use func(ctx context.Context, doc extract.Node, pageURL string) error) error {
	r.to(StateNavigating)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire: wait for session slot: %w", err)
	}
	defer s.sem.Release(1)
	wctx := context.WithoutCancel(ctx)

	octx, cancel := context.WithTimeout(wctx, stepTimeout)
	sess, err := s.browser.NewSession(octx)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire: open session: %w", err)
	}
	s.metrics.inflight.Inc()
	defer func() {
		s.metrics.inflight.Dec()
		if err := sess.Close(); err != nil {
			r.logger.Warn("acquire: close session", "error", err)
		}
	}()

	out := s.nav.Load(wctx, sess, target, p.Critical)
	if !out.Navigated {
		if out.Err == nil {
			out.Err = errors.New("acquire: navigation never started")
		}
		return out.Err
	}
	r.logger.Debug("acquire: loaded",
		"status", out.Status,
		"attempts", out.Attempts,
		"completed", out.Completed,
		"matched", out.Matched,
	)

	r.to(StateValidating)
	ictx, cancel := context.WithTimeout(wctx, stepTimeout)
	title, pageURL, err := sess.Info(ictx)
	cancel()
	if err != nil {
		return err
	}
	if pageURL == "" {
		pageURL = target
	}
	if err := validate.Response(out.Status, title, pageURL, p.BadMarkers); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(wctx, stepTimeout)
	defer cancel()
	doc, err := sess.Document(dctx)
	if err != nil {
		return err
	}
	if body, err := doc.Text(); err == nil {
		if err := validate.Text(body, p.BadMarkers); err != nil {
			return err
		}
	}

	r.to(StateExtracting)
	return use(dctx, doc, pageURL)
}

func (s *Service) begin(operation, target string, id portal.ID) *run {
	req := Request{
		ID:        s.ids(),
		Operation: operation,
		URL:       target,
		Portal:    id,
		CreatedAt: s.now(),
	}
	return newRun(req, s.logger.With("url", target))
}

// fail classifies err at the current stage.
func (s *Service) fail(r *run, err error) *failure.Record {
	c := failure.Context{URL: r.req.URL, Portal: string(r.req.Portal), Stage: string(r.state)}
	r.to(StateErrorClassify)
	rec := failure.Classify(err, c)
	r.logger.Warn("acquire: failed", "kind", rec.Kind, "stage", rec.Stage, "error", err)
	r.to(StateDone)
	return rec
}

func (s *Service) end(r *run, err error) {
	outcome := "success"
	switch {
	case err != nil:
		outcome = string(failure.KindOf(err))
	case r.hit():
		outcome = "cache_hit"
	}
	s.metrics.observe(r.req.Operation, string(r.req.Portal), outcome, s.now().Sub(r.req.CreatedAt))
	if s.onDone != nil {
		s.onDone(r)
	}
}
