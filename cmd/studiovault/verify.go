package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify <tenant-id> <session-id> <filename>",
	Short: "Report every remaining trace of a deleted asset",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		rep, err := a.verifier.Verify(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
		if !rep.Clean() {
			return fmt.Errorf("%d traces of %s remain", len(rep.Traces), args[2])
		}
		return nil
	}),
}
