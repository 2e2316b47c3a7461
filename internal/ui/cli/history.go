package cli

import (
	"depwise/internal/data/history"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type historyOptions struct {
	limit  int
	asJSON bool
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history [PATH]",
		Short: "List stored runs of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectRoot, err := resolveProjectRoot(args)
			if err != nil {
				return err
			}
			store, err := openProjectHistory(root, projectRoot)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), projectRoot, opts.limit)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(root.stdout, runs)
			}
			return printRuns(root.stdout, runs)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the findings of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectRoot, err := resolveProjectRoot(nil)
			if err != nil {
				return err
			}
			store, err := openProjectHistory(root, projectRoot)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.LoadRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(root.stdout, run)
			}
			return printRun(root.stdout, run)
		},
	}
	show.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")
	cmd.AddCommand(show)
	return cmd
}

func openProjectHistory(root *rootOptions, projectRoot string) (*history.Store, error) {
	cfg, err := loadConfig(root.configPath, projectRoot)
	if err != nil {
		return nil, err
	}
	return openHistory(cfg, projectRoot)
}

func printRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no stored runs")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTIME\tSTATUS\tMISSING\tOPTIONAL\tUNUSED\tFILES\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.Timestamp.Local().Format(time.DateTime),
			r.Status,
			r.MissingCount,
			r.OptionalCount,
			r.UnusedCount,
			r.FileCount,
			r.Duration.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}

func printRun(w io.Writer, run history.Run) error {
	fmt.Fprintf(w, "run %s (%s, %s)\n", run.ID, run.Status, run.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(w, "combinations: %s\n", strings.Join(run.Combinations, ", "))
	if len(run.Findings) == 0 {
		_, err := fmt.Fprintln(w, "no findings")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSUBJECT\tLOCATION\tCOMBINATIONS")
	for _, f := range run.Findings {
		location := f.File
		if f.Line > 0 {
			location = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Kind, f.Subject, location, strings.Join(f.Combinations, ","))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
