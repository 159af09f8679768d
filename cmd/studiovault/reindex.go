package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/logging"
)

func init() {
	rootCmd.AddCommand(reindexCmd)
	reindexCmd.Flags().Bool("all", false, "rebuild the backup index of every session")
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [tenant-id session-id]",
	Short: "Rebuild session backup indexes from the object store listing",
	Args: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all != (len(args) == 0) || (!all && len(args) != 2) {
			return fmt.Errorf("give either --all or a tenant and session id")
		}
		return nil
	},
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if len(args) == 0 {
			n, err := a.reindexAll(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d backup indexes\n", n)
			return err
		}
		man, err := a.manifests.RebuildFromStore(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), man)
	}),
}

// reindexAll rebuilds every session manifest. It continues past failing
// sessions and returns the first error.
func (a *app) reindexAll(ctx context.Context) (int, error) {
	start := time.Now()
	sessions, err := a.db.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	var firstErr error
	rebuilt := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if _, err := a.manifests.RebuildFromStore(ctx, s.TenantID, s.SessionID); err != nil {
			logging.Warn("reindex session failed",
				logging.Tenant(s.TenantID), logging.Session(s.SessionID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rebuilt++
	}

	logging.Info("reindex sweep finished",
		zap.Int("sessions", len(sessions)),
		zap.Int("rebuilt", rebuilt),
		zap.Duration("elapsed", time.Since(start)))
	return rebuilt, firstErr
}
