// Command dnswatch probes DNS resolvers on a fixed cadence and alerts on
// failures and latency spikes.
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
	"github.com/spf13/cobra"

	"github.com/tmater/dnswatch/internal/alert"
	"github.com/tmater/dnswatch/internal/check"
	"github.com/tmater/dnswatch/internal/config"
	"github.com/tmater/dnswatch/internal/logger"
	"github.com/tmater/dnswatch/internal/metrics"
	"github.com/tmater/dnswatch/internal/monitor"
	"github.com/tmater/dnswatch/internal/registry"
	"github.com/tmater/dnswatch/internal/server"
	"github.com/tmater/dnswatch/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand(run).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. runFn receives the validated config.
func newRootCommand(runFn func(context.Context, *config.Config) error) *cobra.Command {
	var configPath string
	overrides := config.Default()

	cmd := &cobra.Command{
		Use:           "dnswatch",
		Short:         "Monitor DNS resolution health and alert on anomalies",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath, overrides)
			if err != nil {
				fmt.Fprintf(os.Stderr, "dnswatch: %s\n", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := runFn(ctx, cfg); err != nil {
				logger.For("main").WithError(err).Error("dnswatch failed")
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a dnswatch.yaml config file")
	flags.StringSliceVar(&overrides.Targets, "targets", nil, "comma-separated domains to probe")
	flags.StringSliceVar(&overrides.Resolvers, "resolvers", overrides.Resolvers, "comma-separated resolver addresses")
	flags.StringSliceVar(&overrides.Records, "records", overrides.Records, "comma-separated record types")
	flags.DurationVar(&overrides.Interval, "interval", overrides.Interval, "time between probe waves")
	flags.DurationVar(&overrides.Timeout, "timeout", overrides.Timeout, "per-probe timeout")
	flags.IntVar(&overrides.Window, "window", overrides.Window, "samples kept per check for statistics")
	flags.IntVar(&overrides.Concurrency, "concurrency", overrides.Concurrency, "probes in flight per wave")
	flags.StringVar(&overrides.Alert.Webhook, "webhook", "", "URL receiving alert events as JSON POSTs")
	flags.StringVar(&overrides.Alert.PostgresDSN, "postgres", "", "postgres:// URL for persisting anomalies")
	flags.StringVar(&overrides.Listen, "listen", overrides.Listen, "status API listen address, empty to disable")
	flags.StringVar(&overrides.Log.Level, "log-level", overrides.Log.Level, "debug, info, warn or error")
	flags.StringVar(&overrides.Log.Format, "log-format", overrides.Log.Format, "text or json")
	return cmd
}

// loadConfig reads the config file, if any, and applies every flag the user
// set explicitly on top of it.
func loadConfig(cmd *cobra.Command, path string, overrides *config.Config) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("targets", func() { cfg.Targets = overrides.Targets })
	set("resolvers", func() { cfg.Resolvers = overrides.Resolvers })
	set("records", func() { cfg.Records = overrides.Records })
	set("interval", func() { cfg.Interval = overrides.Interval })
	set("timeout", func() { cfg.Timeout = overrides.Timeout })
	set("window", func() { cfg.Window = overrides.Window })
	set("concurrency", func() { cfg.Concurrency = overrides.Concurrency })
	set("webhook", func() { cfg.Alert.Webhook = overrides.Alert.Webhook })
	set("postgres", func() { cfg.Alert.PostgresDSN = overrides.Alert.PostgresDSN })
	set("listen", func() { cfg.Listen = overrides.Listen })
	set("log-level", func() { cfg.Log.Level = overrides.Log.Level })
	set("log-format", func() { cfg.Log.Format = overrides.Log.Format })

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalid, err)
	}
	return cfg, nil
}

// run wires every component and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.For("main")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	var sinks []alert.Sink
	if cfg.Alert.Webhook != "" {
		sinks = append(sinks, alert.NewWebhook(cfg.Alert.Webhook, cfg.Alert.Timeout))
	}
	var history server.History
	if cfg.Alert.PostgresDSN != "" {
		db, err := store.New(ctx, cfg.Alert.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open anomaly store: %w", err)
		}
		defer db.Close()
		sinks = append(sinks, db)
		history = db
	}

	alerter := alert.New(sinks, alert.Options{
		Timeout:     cfg.Alert.Timeout,
		MaxInFlight: cfg.Alert.MaxInFlight,
		Metrics:     m,
	})

	keys := cfg.Keys()
	mon, err := monitor.New(keys, registry.New(keys, cfg.Window), check.NewDNSProber(cfg.Timeout), monitor.Options{
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
		Notifier:    alerter,
		Metrics:     m,
	})
	if err != nil {
		return err
	}

	var srv *http.Server
	srvErr := make(chan error, 1)
	if cfg.Listen != "" {
		h := server.New(mon, server.Options{History: history, Gatherer: promReg, Users: cfg.Auth.Users})
		srv = &http.Server{Addr: cfg.Listen, Handler: h.Routes(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.WithField("addr", cfg.Listen).Info("status API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-srvErr:
		log.WithError(runErr).Error("status API failed")
	}

	mon.Stop()
	if err := <-monDone; err != nil {
		runErr = errors.Join(runErr, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("status API shutdown")
		}
	}
	if err := alerter.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("alert deliveries still running at exit")
	}
	return runErr
}
