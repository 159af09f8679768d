package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

func init() {
	rootCmd.AddCommand(presignCmd)
	presignCmd.Flags().Bool("download", false, "force an attachment download")
	presignCmd.Flags().Duration("ttl", 0, "URL lifetime (default: PRESIGN_TTL)")
}

var presignCmd = &cobra.Command{
	Use:   "presign <tenant-id> <session-id> <filename>",
	Short: "Print a time-limited URL for an asset",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tenantID, sessionID, filename := args[0], args[1], args[2]

		// Catalogued assets carry their key; older uploads are found by
		// probing the current then the legacy layout.
		var key string
		asset, err := a.db.GetAsset(ctx, sessionID, filename)
		switch {
		case err == nil && asset.TenantID == tenantID:
			key = asset.StorageKey
		case err == nil || errors.Is(err, catalog.ErrNotFound):
			k, err := a.resolver.ResolveReadKey(ctx, tenantID, sessionID, filename, models.CategoryForExtension(filename))
			if err != nil {
				return err
			}
			key = k.String()
		default:
			return err
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = a.cfg.PresignTTL
		}
		download, _ := cmd.Flags().GetBool("download")
		url, err := a.store.Presign(ctx, key, ttl, objstore.PresignOptions{Download: download, Filename: filename})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	}),
}
