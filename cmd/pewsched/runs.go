package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pewsched/internal/app"
	"pewsched/internal/condition"
	logx "pewsched/pkg/logx"
)

func newRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [entry-id]",
		Short: "List finished runs from storage, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("storage is disabled in the config")
			}
			defer st.Close()

			entryID := ""
			if len(args) == 1 {
				entryID = args[0]
			}
			runs, err := st.Runs(cmd.Context(), entryID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENTRY\tNAME\tSTARTED\tDURATION\tREASON\tRUN")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					shortID(r.EntryID), r.Name, humanize.Time(r.Start),
					condition.FormatDuration(r.Duration), r.Reason, r.RunCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to print")
	return cmd
}
