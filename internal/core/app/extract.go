package app

import (
	"context"
	"depwise/internal/core/ports"
	"depwise/internal/engine/parser"
	"depwise/internal/shared/observability"
	"depwise/internal/shared/util"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

type extraction struct {
	files  []*parser.FileImports
	errors []FileError
}

// extractAll parses files on a bounded pool. Failures of single files are
// collected, never returned; only cancellation aborts the run.
func (a *App) extractAll(ctx context.Context, p ports.SourceParser, projectRoot string, paths []string) (extraction, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.extractAll")
	defer span.End()

	results := make([]*parser.FileImports, len(paths))
	failures := make([]*FileError, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			display := displayPath(projectRoot, path)
			file, err := a.extractFile(gctx, p, path, display)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("skipping source file", "path", display, "error", err)
				failures[i] = fileError(display, err)
				return nil
			}
			results[i] = file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return extraction{}, err
	}

	var out extraction
	for i := range paths {
		if results[i] != nil {
			out.files = append(out.files, results[i])
		}
		if failures[i] != nil {
			out.errors = append(out.errors, *failures[i])
		}
	}
	return out, nil
}

func (a *App) extractFile(ctx context.Context, p ports.SourceParser, path, display string) (*parser.FileImports, error) {
	content, err := util.ReadFileRetry(path)
	if err != nil {
		return nil, err
	}

	timeout := a.Config.Analysis.FileTimeout
	if timeout <= 0 {
		return p.ParseFile(display, content)
	}

	type outcome struct {
		file *parser.FileImports
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		file, err := p.ParseFile(display, content)
		done <- outcome{file, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o.file, o.err
	case <-timer.C:
		observability.FilesParsed.WithLabelValues("timeout").Inc()
		return nil, &parser.ParseError{Path: display, Reason: fmt.Sprintf("parse did not finish within %s", timeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fileError(display string, err error) *FileError {
	fe := &FileError{Path: display, Message: err.Error()}
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		fe.Line = pe.Line
		fe.Column = pe.Column
		fe.Message = pe.Reason
	}
	return fe
}
