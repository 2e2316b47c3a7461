package app

import (
	"context"
	"depwise/internal/core/config"
	coreerr "depwise/internal/core/errors"
	"depwise/internal/engine/manifest"
	"depwise/internal/shared/observability"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

type normalization struct {
	sets   []*manifest.DependencySet
	errors []ManifestError
}

// manifestRefs picks the manifests of a run: the request's, then the
// configured ones, then whatever Detect finds in the project root.
func (a *App) manifestRefs(req Request) []manifest.Ref {
	if len(req.Manifests) > 0 {
		return req.Manifests
	}
	if len(a.Config.Manifests) > 0 {
		base := a.configBase(req.ProjectRoot)
		refs := make([]manifest.Ref, 0, len(a.Config.Manifests))
		for _, m := range a.Config.Manifests {
			refs = append(refs, manifest.Ref{
				Path:  config.ResolveRelative(base, m.Path),
				Kind:  manifest.Kind(m.Type),
				Group: m.Group,
			})
		}
		return refs
	}
	return manifest.Detect(req.ProjectRoot)
}

// normalizeAll reads every manifest concurrently. Unreadable or malformed
// manifests are reported and skipped; a dynamic manifest is fatal only
// under the "error" policy.
func (a *App) normalizeAll(ctx context.Context, refs []manifest.Ref) (normalization, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.normalizeAll")
	defer span.End()

	sets := make([]*manifest.DependencySet, len(refs))
	errs := make([]error, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			kind := string(ref.Kind)
			if kind == "" {
				if k, ok := manifest.KindForFile(ref.Path); ok {
					kind = string(k)
				}
			}
			set, err := a.manifests.Parse(ref)
			if err != nil {
				observability.ManifestsParsed.WithLabelValues(kind, "error").Inc()
				errs[i] = err
				return nil
			}
			observability.ManifestsParsed.WithLabelValues(kind, "ok").Inc()
			sets[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return normalization{}, err
	}

	var out normalization
	for i, ref := range refs {
		if sets[i] != nil {
			out.sets = append(out.sets, sets[i])
			continue
		}
		err := errs[i]
		var dyn *manifest.DynamicError
		if errors.As(err, &dyn) {
			if a.Config.Analysis.OnDynamicManifest == config.DynamicError {
				wrapped := coreerr.Wrap(err, coreerr.CodeDynamicManifest, "dynamic manifest rejected by on_dynamic_manifest")
				return normalization{}, coreerr.AddContext(wrapped, coreerr.CtxManifest, ref.Path)
			}
			slog.Warn("manifest is not statically determinable", "path", ref.Path, "field", dyn.Field, "reason", dyn.Reason)
			out.errors = append(out.errors, ManifestError{Path: ref.Path, Kind: string(ref.Kind), Dynamic: true, Message: err.Error()})
			continue
		}
		slog.Warn("skipping manifest", "path", ref.Path, "error", err)
		me := ManifestError{Path: ref.Path, Kind: string(ref.Kind), Message: err.Error()}
		var pe *manifest.ParseError
		if errors.As(err, &pe) && pe.Kind != "" {
			me.Kind = string(pe.Kind)
		}
		out.errors = append(out.errors, me)
	}
	return out, nil
}
