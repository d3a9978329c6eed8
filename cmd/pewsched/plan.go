package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pewsched/internal/app"
	"pewsched/internal/plan"
	logx "pewsched/pkg/logx"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and check plan documents",
	}
	cmd.AddCommand(newPlanValidateCommand())
	cmd.AddCommand(newPlanShowCommand())
	return cmd
}

func newPlanValidateCommand() *cobra.Command {
	var checkTasks bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Decode and validate a plan document",
		Long: `Decode a plan document (json, yaml or toml) and validate every entry.
With --tasks the entry names are also checked against runner.tasks in the config.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := app.ReadPlanFile(args[0])
			if err != nil {
				return err
			}
			if checkTasks {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if err := app.CheckTasks(doc, cfg.Runner); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %d entries\n", args[0], len(doc.Entries))
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkTasks, "tasks", false, "check entry names against the configured tasks")
	return cmd
}

func newPlanShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print the plan the scheduler would start with",
		Long: `Print a plan document. Without a file argument the plan is read the way
"run" reads it: from storage first, then from plan.path.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				doc    *plan.Document
				source string
				err    error
			)
			if len(args) == 1 {
				doc, err = app.ReadPlanFile(args[0])
				source = args[0]
			} else {
				cfg, cerr := loadConfig()
				if cerr != nil {
					return cerr
				}
				doc, source, err = app.LoadPlan(cmd.Context(), cfg, logx.NewConsole("warn"))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan from %s, %d entries\n\n", source, len(doc.Entries))
			return printPlan(cmd.OutOrStdout(), doc, time.Now())
		},
	}
	return cmd
}

func printPlan(out io.Writer, doc *plan.Document, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRIO\tCADENCE\tNEXT\tLAST\tRUNS")
	for _, e := range plan.SortForDisplay(doc.Entries) {
		runs := fmt.Sprintf("%d", e.RunCount)
		if e.MaxRuns > 0 {
			runs += fmt.Sprintf("/%d", e.MaxRuns)
		}
		name := e.Name
		if e.Default {
			name += " (default)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			shortID(e.ID), name, e.Priority, e.IntervalText(), e.NextRunText(now), e.LastRunText(now), runs)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, e := range plan.SortForDisplay(doc.Entries) {
		fmt.Fprintf(out, "\n%s %s\n  start: %s\n  stop:  %s\n",
			shortID(e.ID), e.Name, e.Start.Describe(), e.Stop.Describe())
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

