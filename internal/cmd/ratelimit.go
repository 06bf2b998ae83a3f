package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshgate/meshgate/internal/config"
	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/ratelimit"
	"github.com/meshgate/meshgate/internal/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Rate limiter administration",
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset <bucket-key>",
	Short: "Clear the counter and penalty for a bucket key",
	Long: `Clear the window counter and any penalty marker for a bucket key in
the shared store, unblocking the key immediately.

Bucket keys are ip:path, extended with the user and client ids when the
request was authenticated, e.g. 203.0.113.7:/oauth/token or
203.0.113.7:/api/orders:user-42.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if !cfg.Store.Enabled {
			return apperrors.NewStoreUnavailableError("the shared store is disabled in configuration")
		}

		st, err := store.NewRedisStoreFromAddr(cmd.Context(), cfg.Store.Addr, cfg.Store.Password, cfg.Store.DB)
		if err != nil {
			return apperrors.WrapStoreUnavailable(cmd.Context(), err, "connecting to the shared store failed")
		}

		if err := ratelimit.ResetKey(cmd.Context(), st, args[0]); err != nil {
			return apperrors.WrapStoreUnavailable(cmd.Context(), err, "resetting bucket key failed")
		}

		fmt.Printf("reset %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rateLimitCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
}
