package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/spendsync/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Interval      time.Duration
	ProbeInterval time.Duration
	MetricsAddr   string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the queue in sync until interrupted",
		Long: `Run the sync loop in the foreground.

A drain pass runs at startup, every --interval, when a scheduled retry
comes due, and when the server becomes reachable again after an outage.
With --metrics-addr, Prometheus metrics are served at /metrics.

Example:
  spendsync watch --interval 30s --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "drain interval (default sync_interval)")
	cmd.Flags().DurationVar(&opts.ProbeInterval, "probe-interval", 15*time.Second, "connectivity probe interval")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics_addr)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.SyncInterval
	}
	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx, interval)
	})
	g.Go(func() error {
		return probeConnectivity(gctx, a.client, a.engine, opts.ProbeInterval)
	})
	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, metricsAddr, a.recorder.Handler())
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Syncing with %s every %s. Press Ctrl-C to stop.\n", a.cfg.BaseURL, interval)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "watch failed", err)
	}
	slog.Info("watch stopped")
	return nil
}

// pinger reports whether the remote is reachable.
type pinger interface {
	Ping(ctx context.Context) error
}

// triggerer requests drain passes.
type triggerer interface {
	Trigger(reason engine.TriggerReason)
}

// probeConnectivity pings the remote every interval and triggers a drain
// when it comes back after being unreachable.
func probeConnectivity(ctx context.Context, p pinger, t triggerer, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := p.Ping(ctx)
		switch {
		case err != nil && online:
			online = false
			slog.Warn("server unreachable", "error", err)
		case err == nil && !online:
			online = true
			slog.Info("server reachable again, syncing")
			t.Trigger(engine.TriggerConnectivity)
		}
	}
}

// serveMetrics serves handler at /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		return nil
	}
}
