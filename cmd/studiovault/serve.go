package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Duration("probe-interval", 30*time.Second, "how often to re-check the primary store")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and health, probe the store and run the reindex sweep",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ctx := cmd.Context()
		probeEvery, _ := cmd.Flags().GetDuration("probe-interval")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if !a.store.Durable() {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintln(w, a.store.Health())
		})
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", a.cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()

		if a.cfg.ReindexSchedule != "" {
			sched := cron.New()
			if _, err := sched.AddFunc(a.cfg.ReindexSchedule, func() {
				if _, err := a.reindexAll(ctx); err != nil {
					logging.Error("scheduled reindex failed", zap.Error(err))
				}
			}); err != nil {
				srv.Close()
				return fmt.Errorf("REINDEX_SCHEDULE: %w", err)
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()
			logging.Info("reindex sweep scheduled", zap.String("schedule", a.cfg.ReindexSchedule))
		}

		go a.maintain(ctx, probeEvery)

		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}),
}

// maintain re-probes the primary store, which is the only way a degraded
// client recovers, and refreshes connection metrics.
func (a *app) maintain(ctx context.Context, probeEvery time.Duration) {
	probe := time.NewTicker(probeEvery)
	defer probe.Stop()
	conns := time.NewTicker(15 * time.Second)
	defer conns.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			if err := a.store.Probe(ctx); err != nil {
				logging.Error("store probe failed", zap.Error(err))
			}
		case <-conns.C:
			a.db.UpdateConnectionMetrics()
		}
	}
}
