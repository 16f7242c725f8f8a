package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/invload/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previous runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			records, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTARTED\tNAME\tREQS\tRPS\tP95\tERRORS\tRESULT")
			for _, r := range records {
				status := "PASSED"
				if !r.Passed {
					status = "FAILED"
				}
				if r.Interrupted {
					status += " (interrupted)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\t%s\t%.2f%%\t%s\n",
					r.RunID,
					r.StartTime.Local().Format(time.DateTime),
					r.Name,
					r.Requests,
					r.RPS,
					r.P95.Round(time.Microsecond),
					r.ErrorRate*100,
					status,
				)
			}
			return w.Flush()
		},
	}

	cmd.PersistentFlags().String("path", "", "History database (default ~/.invload/history.db)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum runs to list (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	})

	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		p, err := history.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return history.Open(path)
}
