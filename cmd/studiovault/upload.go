package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/studiovault/internal/ingest"
	"github.com/fruitsalade/studiovault/internal/models"
)

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().String("category", "", "gallery, raw, documents or other (default: from extension)")
	uploadCmd.Flags().String("name", "", "stored filename (default: the file's base name)")
	uploadCmd.Flags().String("content-type", "", "MIME type (default: from extension)")
}

var uploadCmd = &cobra.Command{
	Use:   "upload <tenant-id> <session-id> <path>",
	Short: "Upload a file into a session",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		body, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[2])
		}
		category, _ := cmd.Flags().GetString("category")
		contentType, _ := cmd.Flags().GetString("content-type")

		res, err := a.uploader.Upload(cmd.Context(), ingest.Request{
			TenantID:    args[0],
			SessionID:   args[1],
			Filename:    name,
			Category:    models.Category(category),
			ContentType: contentType,
			Body:        body,
		})
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			cmd.PrintErrln("warning:", w)
		}
		return printJSON(cmd.OutOrStdout(), res.Asset)
	}),
}
