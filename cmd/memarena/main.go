// Command memarena builds a guest memory layout from a YAML file on the
// running host.
//
//	memarena probe -config layout.yaml
//	memarena serve -config layout.yaml -listen :9464
//
// probe builds the layout, verifies that every alias observes the same
// bytes, and tears it down. serve keeps the layout alive and exposes
// prometheus metrics on /metrics and health checks on /live and /ready.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/memarena/pkg/arena"
	"github.com/srediag/memarena/pkg/health"
	"github.com/srediag/memarena/pkg/layout"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "memarena:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: memarena probe|serve -config <layout.yaml> [flags]")
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("missing command")
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "layout.yaml", "layout file")
	logLevel := fs.Int("log-level", -1, "arena log level, 0 (trace) to 5 (silent)")
	listen := fs.String("listen", ":9464", "serve: metrics and health listen address")
	workers := fs.Int("workers", 0, "probe workers, 0 uses the layout file value")
	noFastmem := fs.Bool("no-fastmem", false, "skip guest mirrors even if the layout enables them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logLevel >= 0 {
		arena.SetLogLevel(*logLevel)
	}

	cfg, err := layout.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *noFastmem {
		cfg.Fastmem = false
	}
	if *workers > 0 {
		cfg.ProbeWorkers = *workers
	}

	switch cmd {
	case "probe":
		return probe(ctx, cfg, out)
	case "serve":
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, *listen, out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func build(ctx context.Context, cfg *layout.Config, out io.Writer) (*layout.Layout, error) {
	a, err := layout.NewArena(cfg)
	if err != nil {
		return nil, err
	}
	l, err := layout.Build(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	if fb := l.Fallback(); fb != nil {
		fmt.Fprintf(out, "fastmem disabled, using views only: %v\n", fb)
	}
	fmt.Fprintf(out, "arena %s: page %#x, fastmem %t, base %#x\n", a.ID(), a.PageSize(), l.Fastmem(), l.Base())
	for _, p := range l.Placements() {
		kind := "view"
		if p.Fixed {
			kind = fmt.Sprintf("guest %#x", p.Guest)
		}
		fmt.Fprintf(out, "  %-8s [%#x, +%#x) at %#x (%s)\n", p.Region, p.Offset, p.Size, p.Host, kind)
	}
	return l, nil
}

func probe(ctx context.Context, cfg *layout.Config, out io.Writer) (err error) {
	l, err := build(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, l.Close()) }()

	results, err := layout.Probe(ctx, l, cfg.ProbeWorkers)
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(out, "probe %-8s paths=%d %s\n", r.Region, r.Paths, status)
	}
	return err
}

func serve(ctx context.Context, cfg *layout.Config, listen string, out io.Writer) (err error) {
	l, err := build(ctx, cfg, out)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, l.Close()) }()

	a, ok := l.Arena().(*arena.Arena)
	if !ok {
		return errors.New("layout is not backed by a host arena")
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		arena.NewCollector(a),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checks := healthcheck.NewHandler()
	health.NewProvider(l, cfg.ProbeWorkers, 5*time.Second).Register(checks)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/live", checks.LiveEndpoint)
	mux.HandleFunc("/ready", checks.ReadyEndpoint)

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Fprintf(out, "serving on %s\n", listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
