// Command dnswatch-mock serves a small fixed DNS zone for trying dnswatch
// locally.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tmater/dnswatch/internal/dnstest"
	"github.com/tmater/dnswatch/internal/logger"
)

func main() {
	var (
		addr  string
		zone  = dnstest.NewZone()
		level string
	)

	cmd := &cobra.Command{
		Use:          "dnswatch-mock",
		Short:        "Serve up.test, slow.test, flap.test, down.test, empty.test and big.test",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(level, "text"); err != nil {
				return err
			}
			log := logger.For("mock")

			srv, err := dnstest.Listen(addr, zone)
			if err != nil {
				return err
			}
			defer srv.Close()

			log.WithField("addr", srv.Addr).Info("dnswatch-mock listening on udp and tcp")
			log.Info("names: up.test slow.test flap.test down.test empty.test big.test, NXDOMAIN for the rest")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			log.WithField("queries", zone.Queries()).Info("dnswatch-mock stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "127.0.0.1:5353", "UDP and TCP listen address")
	cmd.Flags().DurationVar(&zone.SlowDelay, "slow-delay", zone.SlowDelay, "response delay for slow.test")
	cmd.Flags().StringVar(&level, "log-level", "info", "debug, info, warn or error")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
