package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(batchDeleteCmd)
	batchDeleteCmd.Flags().String("from-file", "", "read filenames from a file, one per line")
}

var deleteCmd = &cobra.Command{
	Use:   "delete <tenant-id> <session-id> <filename>",
	Short: "Delete one asset and every trace of it",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.deleter.Delete(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	}),
}

var batchDeleteCmd = &cobra.Command{
	Use:   "batch-delete <tenant-id> <session-id> [filename...]",
	Short: "Delete many assets of one session concurrently",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		names := args[2:]
		if path, _ := cmd.Flags().GetString("from-file"); path != "" {
			more, err := readLines(path)
			if err != nil {
				return err
			}
			names = append(names, more...)
		}
		if len(names) == 0 {
			return fmt.Errorf("no filenames given")
		}

		res, err := a.deleter.DeleteBatch(cmd.Context(), args[0], args[1], names)
		if res != nil {
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d deletions failed", res.Failed, len(res.Items))
		}
		return nil
	}),
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
