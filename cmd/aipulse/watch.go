package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/forest6511/aipulse/internal/notifier"
	"github.com/forest6511/aipulse/internal/scheduler"
	"github.com/forest6511/aipulse/pkg/notify"
)

// Watch flags
var (
	watchMetricsAddr string
	watchInterval    time.Duration
	watchStdout      bool
)

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g., 127.0.0.1:9464)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Refresh interval (default from settings)")
	watchCmd.Flags().BoolVar(&watchStdout, "stdout", false, "Also print notifications to standard output")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh usage periodically and send desktop notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 1. Resolve the refresh interval: flag, then config. Zero follows
		// the stored settings.
		interval, err := resolveInterval(cmd)
		if err != nil {
			return err
		}

		// 2. Metrics
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := notify.NewMetrics(reg)

		addr := watchMetricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		if addr != "" {
			srv := metricsServer(addr, reg)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.WithError(err).Error("metrics server failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			log.WithField("addr", addr).Info("serving metrics")
		}

		// 3. Engine and scheduler
		var n notify.Notifier = notifier.NewDesktop()
		if watchStdout {
			n = notifier.Multi{n, notifier.NewWriter(os.Stdout)}
		}
		engine := notify.NewEngine(notify.NewTracker(), n,
			notify.WithLogger(log),
			notify.WithMetrics(metrics),
			notify.WithResetObserver(func(limitID string) {
				log.WithField("limit_id", limitID).Info("usage reset")
			}),
		)
		sched := scheduler.New(app.vault, app.settings, newRegistry(), engine,
			scheduler.WithLogger(log),
			scheduler.WithBeforeRefresh(reloadStores),
			scheduler.WithPauseHandler(func(st scheduler.Status) {
				fmt.Printf("✗ Paused after %d session errors. Update the session key with 'aipulse account add', then run 'kill -HUP %d' to resume\n",
					st.SessionErrors, os.Getpid())
			}),
		)

		if err := sched.Start(ctx, interval); err != nil {
			return err
		}
		fmt.Printf("Watching usage every %s, press Ctrl+C to stop, send SIGHUP to resume after a pause\n", sched.Status().Interval)

		// 4. SIGHUP resumes a paused scheduler
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				sched.Stop()
				return nil
			case <-hup:
				sched.Resume()
				if _, err := sched.ForceRefresh(ctx); err != nil {
					log.WithError(err).Error("refresh failed")
				}
				printStatus(sched.Status())
			}
		}
	},
}

// reloadStores picks up accounts and settings saved by other commands.
func reloadStores() error {
	if err := app.vault.Reload(); err != nil {
		return err
	}
	return app.settings.Reload()
}

func printStatus(st scheduler.Status) {
	state := "running"
	if st.Paused {
		state = "paused"
	}
	last := "never"
	if !st.LastFetch.IsZero() {
		last = st.LastFetch.Local().Format("15:04:05")
	}
	fmt.Printf("Scheduler %s, every %s, last refresh %s, session errors %d\n", state, st.Interval, last, st.SessionErrors)
}

func resolveInterval(cmd *cobra.Command) (time.Duration, error) {
	if cmd.Flags().Changed("interval") {
		return watchInterval, nil
	}
	return cfg.Interval()
}

func metricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
