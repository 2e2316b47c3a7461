package cli

import (
	"context"
	"depwise/internal/core/app"
	"depwise/internal/core/config"
	"depwise/internal/engine/manifest"
	"depwise/internal/ui/report"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type checkOptions struct {
	requirements []string
	pyprojects   []string
	condas       []string
	pixis        []string
	setups       []string

	currentEnv   bool
	sitePackages []string

	extras    []string
	allExtras bool

	ignoreNames   []string
	ignoreImports []string
	ignorePaths   []string
	projectName   string

	format      string
	output      string
	failOn      []string
	verbosity   string
	watch       bool
	ui          bool
	history     bool
	metricsFile string
	metricsAddr string
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check [PATH...]",
		Short: "Report missing, optional-candidate and unused dependencies",
		Long: `Check scans the Python sources under PATH (default: the project root) and
compares their imports with the declared dependencies. Without manifest flags
the manifests are taken from the configuration, or detected in the project root.

Exit codes: 0 no failing findings, 1 findings listed in fail_on,
2 incomplete analysis or configuration error, 130 interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), root, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.requirements, "requirements", "r", nil, "requirements file (repeatable)")
	f.StringArrayVarP(&opts.pyprojects, "pyproject", "p", nil, "pyproject.toml (repeatable)")
	f.StringArrayVarP(&opts.condas, "conda", "c", nil, "conda environment.yml (repeatable)")
	f.StringArrayVar(&opts.pixis, "pixi", nil, "pixi.toml (repeatable)")
	f.StringArrayVar(&opts.setups, "setup", nil, "setup.py or setup.cfg (repeatable)")
	f.BoolVarP(&opts.currentEnv, "current-environment", "e", false, "confirm findings against the installed environment")
	f.StringArrayVar(&opts.sitePackages, "site-packages", nil, "site-packages directory to validate against (repeatable)")
	f.StringArrayVar(&opts.extras, "extras", nil, "extras combination to evaluate, comma-joined (repeatable)")
	f.BoolVar(&opts.allExtras, "all-extras", false, "evaluate every extras group on its own")
	f.StringSliceVar(&opts.ignoreNames, "ignore", nil, "module or package names to ignore")
	f.StringArrayVar(&opts.ignoreImports, "ignore-import", nil, "regex over dotted module paths to ignore (repeatable)")
	f.StringArrayVar(&opts.ignorePaths, "ignore-path", nil, "regex over source file paths to ignore (repeatable)")
	f.StringVar(&opts.projectName, "project-name", "", "project distribution name (default: from the manifests)")
	f.StringVar(&opts.format, "format", "", "output format: "+strings.Join(config.OutputFormats, "|"))
	f.StringVarP(&opts.output, "output", "o", "", "write the report to this file instead of stdout")
	f.StringSliceVar(&opts.failOn, "fail-on", nil, "finding kinds that fail the run (default: missing)")
	f.StringVar(&opts.verbosity, "verbosity", "standard", "markdown detail: summary|standard|detailed")
	f.BoolVar(&opts.watch, "watch", false, "re-run when sources or manifests change")
	f.BoolVar(&opts.ui, "ui", false, "browse findings in a terminal UI")
	f.BoolVar(&opts.history, "history", false, "record the run and compare with the previous one")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address while watching")
	return cmd
}

func runCheck(ctx context.Context, root *rootOptions, opts *checkOptions, args []string) error {
	projectRoot, err := resolveProjectRoot(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root.configPath, projectRoot)
	if err != nil {
		return err
	}
	if err := opts.applyTo(cfg); err != nil {
		return err
	}
	if cfg.Output.Path != "" {
		paths, err := config.ResolvePaths(cfg, projectRoot)
		if err != nil {
			return err
		}
		cfg.Output.Path = paths.OutputPath
	}

	stopTracing := startTracing(ctx, cfg)
	defer stopTracing()

	appOpts := []app.Option{}
	if cfg.History.Enabled {
		store, err := openHistory(cfg, projectRoot)
		if err != nil {
			slog.Warn("run history disabled", "error", err)
		} else {
			defer store.Close()
			appOpts = append(appOpts, app.WithHistory(store))
		}
	}

	a, err := app.New(cfg, appOpts...)
	if err != nil {
		return err
	}
	req, err := opts.request(projectRoot, args)
	if err != nil {
		return err
	}

	switch {
	case opts.ui:
		return runUI(ctx, a, req, opts.watch)
	case opts.watch:
		return runWatch(ctx, root, a, req, opts)
	}

	rep, err := a.Check(ctx, req)
	writeMetrics(a.Config, projectRoot)
	if err != nil {
		return err
	}
	if err := emit(root.stdout, a.Config, rep, opts.verbosity); err != nil {
		return err
	}
	return verdict(a.Config, rep)
}

// applyTo folds command-line overrides into the loaded configuration.
func (o *checkOptions) applyTo(cfg *config.Config) error {
	if o.format != "" {
		cfg.Output.Format = o.format
	}
	if o.output != "" {
		abs, err := absPaths([]string{o.output})
		if err != nil {
			return err
		}
		cfg.Output.Path = abs[0]
	}
	if len(o.failOn) > 0 {
		cfg.Analysis.FailOn = o.failOn
	}
	if o.history {
		cfg.History.Enabled = true
	}
	if o.metricsFile != "" {
		abs, err := absPaths([]string{o.metricsFile})
		if err != nil {
			return err
		}
		cfg.Observability.MetricsFile = abs[0]
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (o *checkOptions) request(projectRoot string, args []string) (app.Request, error) {
	roots, err := absPaths(args)
	if err != nil {
		return app.Request{}, err
	}
	req := app.Request{
		ProjectRoot:         projectRoot,
		Roots:               roots,
		ProjectName:         o.projectName,
		IgnoreNames:         o.ignoreNames,
		IgnoreImports:       o.ignoreImports,
		IgnorePaths:         o.ignorePaths,
		ValidateEnvironment: o.currentEnv || len(o.sitePackages) > 0,
	}
	if req.SitePackages, err = absPaths(o.sitePackages); err != nil {
		return app.Request{}, err
	}

	req.Extras = append(req.Extras, o.extras...)
	if o.allExtras {
		req.Extras = append(req.Extras, "*")
	}

	for _, group := range []struct {
		paths []string
		kind  manifest.Kind
	}{
		{o.requirements, manifest.KindRequirements},
		{o.pyprojects, manifest.KindPyProject},
		{o.condas, manifest.KindConda},
		{o.pixis, manifest.KindPixi},
		{o.setups, manifest.KindSetup},
	} {
		paths, err := absPaths(group.paths)
		if err != nil {
			return app.Request{}, err
		}
		for _, p := range paths {
			req.Manifests = append(req.Manifests, manifest.Ref{Path: p, Kind: group.kind})
		}
	}
	return req, nil
}

// emit writes the report to the configured output file, or stdout.
func emit(stdout io.Writer, cfg *config.Config, rep *app.Report, verbosity string) error {
	renderOpts := report.Options{Verbosity: verbosity}
	if cfg.Output.Path == "" {
		renderOpts.Color = isTerminal(stdout)
		return report.Render(stdout, cfg.Output.Format, rep, renderOpts)
	}
	content, err := report.Generate(cfg.Output.Format, rep, renderOpts)
	if err != nil {
		return err
	}
	if err := report.WriteOutput(cfg.Output.Path, content); err != nil {
		return err
	}
	slog.Info("report written", "path", cfg.Output.Path, "format", cfg.Output.Format)
	return nil
}

func verdict(cfg *config.Config, rep *app.Report) error {
	if rep.Status == app.StatusIncomplete {
		return &exitError{code: ExitIncomplete, msg: "analysis incomplete: " + rep.Reason}
	}
	if rep.Fails(cfg.Analysis.FailOn) {
		return &exitError{code: ExitFindings, msg: ""}
	}
	return nil
}

func runWatch(ctx context.Context, root *rootOptions, a *app.App, req app.Request, opts *checkOptions) error {
	var srv *ObservabilityServer
	if opts.metricsAddr != "" {
		srv = NewObservabilityServer(opts.metricsAddr)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to stop observability server", "error", err)
			}
		}()
	}

	slog.Info("watching for changes", "root", req.ProjectRoot)
	err := a.Watch(ctx, req, func(rep *app.Report, err error) {
		writeMetrics(a.Config, req.ProjectRoot)
		if srv != nil {
			srv.Observe(rep, err)
		}
		if err != nil {
			slog.Error("check failed", "error", err)
			return
		}
		slog.Info("check finished", "result", describe(rep))
		if err := emit(root.stdout, a.Config, rep, opts.verbosity); err != nil {
			slog.Error("failed to write report", "error", err)
		}
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

func describe(rep *app.Report) string {
	return fmt.Sprintf("%s: %d missing, %d optional-candidate, %d unused",
		rep.Status, rep.Summary["missing"], rep.Summary["optional-candidate"], rep.Summary["unused"])
}
