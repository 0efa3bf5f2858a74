package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"verity/claim"
	"verity/db"
	"verity/outbox"
)

var relayOnce bool

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run only the outbox relay against the Postgres store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, db.PoolConfig{})
		if err != nil {
			return err
		}
		defer pool.Close()

		custodian, err := buildCustodian(cfg.Custodian)
		if err != nil {
			return err
		}
		relay := outbox.NewRelay(claim.NewRepository(pool), custodian, outbox.NewLogSink(zap.L()), outbox.RelayConfig{
			Interval:      cfg.Relay.Interval,
			BatchSize:     cfg.Relay.BatchSize,
			MaxAttempts:   cfg.Relay.MaxAttempts,
			RatePerSecond: cfg.Relay.RatePerSecond,
		})

		if relayOnce {
			n, err := relay.Drain(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("relay drained", zap.Int("processed", n))
			return nil
		}
		return relay.Run(ctx)
	},
}

func init() {
	relayCmd.Flags().BoolVar(&relayOnce, "once", false, "drain one batch and exit")
	rootCmd.AddCommand(relayCmd)
}
