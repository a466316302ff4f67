package app

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bellwood-io/rowlock/src/cfg"
)

func initStatus() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Prints the lock system configuration that would be loaded for this invocation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			config, err := cfg.LoadConfig(rootCmd.Options.ConfigPath)
			if err != nil {
				log.Sugar().Warnw("falling back to defaults", "error", err)
				config = cfg.DefaultConfig()
			}

			log.Sugar().Infow("resolved lock system config",
				"deadlock_detect", config.DeadlockDetect,
				"deadlock_report", config.DeadlockReport,
				"lock_wait_timeout_sec", config.LockWaitTimeoutSec,
				"infinite_wait", config.IsInfiniteWait(),
				"cell_count", config.CellCount,
			)
			return nil
		},
	}
	rootCmd.AddCommand(cmd)
}
