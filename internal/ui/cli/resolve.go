package cli

import (
	"depwise/internal/engine/resolver"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type resolveOptions struct {
	currentEnv   bool
	sitePackages []string
	asJSON       bool
}

type resolveRow struct {
	Module      string               `json:"module"`
	Stdlib      bool                 `json:"stdlib,omitempty"`
	Candidates  []resolver.Candidate `json:"candidates"`
	Diagnostics []string             `json:"diagnostics,omitempty"`
}

func newResolveCmd(root *rootOptions) *cobra.Command {
	opts := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve MODULE...",
		Short: "Show which distributions provide an import name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			r, err := opts.resolver(wd)
			if err != nil {
				return err
			}
			rows := resolveAll(r, args)
			if opts.asJSON {
				return writeJSON(root.stdout, rows)
			}
			return printResolutions(root.stdout, rows)
		},
	}
	cmd.Flags().BoolVarP(&opts.currentEnv, "current-environment", "e", false, "consult the installed environment")
	cmd.Flags().StringArrayVar(&opts.sitePackages, "site-packages", nil, "site-packages directory to consult (repeatable)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")
	return cmd
}

func (o *resolveOptions) resolver(projectDir string) (*resolver.Resolver, error) {
	if !o.currentEnv && len(o.sitePackages) == 0 {
		return resolver.New(resolver.DefaultTable()), nil
	}
	site, err := absPaths(o.sitePackages)
	if err != nil {
		return nil, err
	}
	env := resolver.NewEnvironment(resolver.LocateSitePackages(projectDir, site, os.Getenv)...)
	if err := env.Err(); err != nil {
		return nil, fmt.Errorf("read installed environment: %w", err)
	}
	return resolver.New(resolver.DefaultTable(), resolver.WithOracle(env)), nil
}

func resolveAll(r *resolver.Resolver, modules []string) []resolveRow {
	rows := make([]resolveRow, 0, len(modules))
	for _, m := range modules {
		m = strings.TrimSpace(m)
		if resolver.IsStdlib(m) {
			rows = append(rows, resolveRow{Module: m, Stdlib: true})
			continue
		}
		res := r.Resolve(m)
		rows = append(rows, resolveRow{Module: m, Candidates: res.Candidates, Diagnostics: res.Diagnostics})
	}
	return rows
}

func printResolutions(w io.Writer, rows []resolveRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tPACKAGE\tTIER")
	for _, row := range rows {
		switch {
		case row.Stdlib:
			fmt.Fprintf(tw, "%s\t-\tstandard library\n", row.Module)
		case len(row.Candidates) == 0:
			fmt.Fprintf(tw, "%s\t-\tno candidate\n", row.Module)
		default:
			for i, c := range row.Candidates {
				name := row.Module
				if i > 0 {
					name = ""
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, c.Package, c.Tier)
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, row := range rows {
		for _, d := range row.Diagnostics {
			fmt.Fprintf(w, "note: %s\n", d)
		}
	}
	return nil
}
