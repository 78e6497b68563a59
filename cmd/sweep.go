package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire settlements and account creations past their deadline, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		eng, err := buildEngine(ctx, env, nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		expired, err := eng.service.ExpireStale(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		env.logger.Info("sweep finished", zap.String("component", "bootstrap"), zap.Int("expired", expired))
		return nil
	},
}
