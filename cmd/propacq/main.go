// Command propacq acquires property listings from Chilean real-estate
// portals.
//
// Usage:
//
//	propacq -url https://www.portalinmobiliario.com/MLC-123   # one extraction to stdout
//	propacq -search-portal yapo -search-location santiago      # one search to stdout
//	propacq -config propacq.yaml -listen :8080                 # serve the HTTP API
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/notbrokker/notbrokker-property-api-sub001/acquire"
	"github.com/notbrokker/notbrokker-property-api-sub001/api"
	"github.com/notbrokker/notbrokker-property-api-sub001/portal"
	"github.com/notbrokker/notbrokker-property-api-sub001/shield"
)

type options struct {
	configPath     string
	url            string
	searchPortal   string
	searchLocation string
	searchType     string
	searchOp       string
	listen         string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to propacq.yaml config file")
	flag.StringVar(&o.url, "url", "", "extract a single listing and print it")
	flag.StringVar(&o.searchPortal, "search-portal", "", "portal to search (with -search-location)")
	flag.StringVar(&o.searchLocation, "search-location", "", "location to search, e.g. \"Las Condes\"")
	flag.StringVar(&o.searchType, "search-type", "", "property type, e.g. casa (default departamento)")
	flag.StringVar(&o.searchOp, "search-operation", "", "venta or arriendo (default venta)")
	flag.StringVar(&o.listen, "listen", "", "serve the HTTP API on this address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("propacq: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.url == "" && o.searchPortal == "" && o.listen == "" && o.configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: propacq -url <url> | -search-portal <id> -search-location <loc> | -config <file> [-listen <addr>]")
		os.Exit(2)
	}

	var cfg acquire.Config
	if o.configPath != "" {
		c, err := acquire.LoadConfigFile(o.configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	cfg.Logger = logger
	cfg.Registerer = prometheus.DefaultRegisterer

	svc, err := acquire.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("propacq: close", "error", err)
		}
	}()

	switch {
	case o.url != "":
		res, err := svc.Extract(ctx, o.url)
		if err != nil {
			return printJSON(err)
		}
		return printJSON(res)
	case o.searchPortal != "":
		items, err := svc.Search(ctx, acquire.Criteria{
			Portal:       portal.ID(o.searchPortal),
			Operation:    o.searchOp,
			PropertyType: o.searchType,
			Location:     o.searchLocation,
		})
		if err != nil {
			return printJSON(err)
		}
		return printJSON(items)
	}

	addr := o.listen
	if addr == "" {
		addr = svc.Config().HTTP.Listen
	}
	return serve(ctx, logger, svc, addr)
}

func serve(ctx context.Context, logger *slog.Logger, svc *acquire.Service, addr string) error {
	cfg := svc.Config()
	limiter := shield.NewRateLimiter(shield.RateConfig{
		PerMinute: cfg.HTTP.RatePerMinute,
		Burst:     cfg.HTTP.Burst,
		Logger:    logger,
	})
	limiter.StartGC(ctx.Done())

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(svc, api.Options{Limiter: limiter}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("propacq: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("propacq: shutting down")
	return srv.Shutdown(shutdownCtx)
}

// printJSON writes v to stdout. A failure is printed too, then returned so
// the exit status reflects it.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err, ok := v.(error); ok {
		return err
	}
	return nil
}
