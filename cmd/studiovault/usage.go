package main

import (
	"github.com/spf13/cobra"

	"github.com/fruitsalade/studiovault/internal/models"
)

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().Int64("quota", -1, "quota in bytes (default: the tenant's stored quota, 0 = unlimited)")
}

type usageReport struct {
	Snapshot *models.UsageSnapshot `json:"snapshot"`
	// Recorded are the catalog counters, for comparison with the listing.
	Recorded map[models.Category]int64 `json:"recorded"`
}

var usageCmd = &cobra.Command{
	Use:   "usage <tenant-id>",
	Short: "Compute a tenant's storage usage from the object store",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tenantID := args[0]

		quota, _ := cmd.Flags().GetInt64("quota")
		if quota < 0 {
			q, err := a.db.TenantQuota(ctx, tenantID)
			if err != nil {
				return err
			}
			quota = q
		}

		snap, err := a.usage.ComputeUsage(ctx, tenantID, quota)
		if err != nil {
			return err
		}
		recorded, err := a.db.Usage(ctx, tenantID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), usageReport{Snapshot: snap, Recorded: recorded})
	}),
}
