// Package cli implements the depwise command line.
//
// Commands:
//   - check: analyze a project and report missing, optional-candidate and
//     unused dependencies, once, in watch mode, or in a terminal UI
//   - resolve: show which distributions provide an import name
//   - history: list and show stored runs
//
// Logging goes through log/slog with a charmbracelet/log handler on stderr.
package cli

import (
	"context"
	"depwise/internal/shared/version"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const (
	ExitClean      = 0
	ExitFindings   = 1
	ExitIncomplete = 2
	ExitInterrupt  = 130
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type rootOptions struct {
	configPath string
	verbose    bool
	stdout     io.Writer
	stderr     io.Writer

	// stopLogging is set by the logging hook and run after the command.
	stopLogging func()
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if opts.stopLogging != nil {
		opts.stopLogging()
	}
	code := exitCode(ctx, err)
	if err != nil && code != ExitInterrupt {
		var ee *exitError
		if !errors.As(err, &ee) || ee.msg != "" {
			fmt.Fprintln(stderr, "error:", err)
		}
	}
	return code
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "depwise",
		Short:         "Find missing, optional-only and unused Python dependencies",
		Long:          `depwise compares the imports of a Python project with the dependencies its manifests declare and reports what is missing, what is only available through an optional extra, and what is never used.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui, _ := cmd.Flags().GetBool("ui")
			opts.stopLogging = configureLogging(opts.stderr, opts.verbose, ui)
		},
	}
	root.SetVersionTemplate("depwise {{.Version}}\n")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to depwise.toml (default: discovered from the project root)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newResolveCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	return root
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return ExitClean
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// Configuration errors and unreadable input both leave the analysis
	// incomplete.
	return ExitIncomplete
}
