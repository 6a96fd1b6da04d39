package versioning

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/sync/errgroup"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// diffRows classifies every entity present on either side. Entities only in
// after are added, only in before removed, and present on both sides with
// differing payloads modified.
func diffRows[D any, C any](kind Kind[D, C], before, after map[string]model.VersionEntity[C], convert Converter[D, C]) (model.EntityDelta[D], error) {
	delta := model.NewEntityDelta[D]()

	for id, b := range before {
		a, ok := after[id]
		if !ok {
			d, err := convert(id, b.Content)
			if err != nil {
				return delta, err
			}
			delta.Removed[id] = d
			continue
		}
		if kind.Equal(b.Content, a.Content) {
			continue
		}
		beforeView, err := convert(id, b.Content)
		if err != nil {
			return delta, err
		}
		afterView, err := convert(id, a.Content)
		if err != nil {
			return delta, err
		}
		delta.Modified[id] = model.ModifiedPair[D]{Before: beforeView, After: afterView}
	}

	for id, a := range after {
		if _, ok := before[id]; ok {
			continue
		}
		d, err := convert(id, a.Content)
		if err != nil {
			return delta, err
		}
		delta.Added[id] = d
	}
	return delta, nil
}

// sideRows holds the resolved rows of both kinds at one version.
type sideRows struct {
	artifacts  map[string]model.ArtifactVersion
	traceLinks map[string]model.TraceLinkVersion
}

// Delta computes the difference from baseline to target. Both versions must
// belong to the same project. The two sides are resolved concurrently.
func (s *Service) Delta(ctx context.Context, baselineID, targetID string) (_ *model.ProjectDelta, err error) {
	ctx, span := startDeltaSpan(ctx, baselineID, targetID)
	defer func() { endSpan(span, err) }()
	start := time.Now()

	baseline, err := s.requireVersion(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	target, err := s.requireVersion(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if baseline.ProjectID != target.ProjectID {
		return nil, rtmerrors.Newf(rtmerrors.VersionOrdering,
			"versions %s and %s belong to different projects", baselineID, targetID)
	}

	var before, after sideRows
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		before, err = s.resolveSide(gctx, *baseline)
		return err
	})
	g.Go(func() error {
		var err error
		after, err = s.resolveSide(gctx, *target)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Base entities are never rewritten, so loading them after both sides
	// covers every row either side returned.
	q := s.db.Conn()
	convertArtifact, err := s.artifactKind.Converter(ctx, q, target.ProjectID)
	if err != nil {
		return nil, err
	}
	convertLink, err := s.linkKind.Converter(ctx, q, target.ProjectID)
	if err != nil {
		return nil, err
	}

	artifacts, err := diffRows[model.Artifact, model.ArtifactContent](s.artifactKind, before.artifacts, after.artifacts, convertArtifact)
	if err != nil {
		return nil, err
	}
	links, err := diffRows[model.TraceLink, model.TraceLinkContent](s.linkKind, before.traceLinks, after.traceLinks, convertLink)
	if err != nil {
		return nil, err
	}

	delta := &model.ProjectDelta{
		Baseline:   *baseline,
		Target:     *target,
		Artifacts:  artifacts,
		TraceLinks: links,
	}
	s.metrics.ObserveDelta(time.Since(start))
	summary := delta.Summary()
	s.logger.Debug("Computed delta",
		"baseline", baseline.String(),
		"target", target.String(),
		"artifacts_added", summary.ArtifactsAdded,
		"artifacts_modified", summary.ArtifactsModified,
		"artifacts_removed", summary.ArtifactsRemoved,
		"trace_links_added", summary.TraceLinksAdded,
		"trace_links_modified", summary.TraceLinksModified,
		"trace_links_removed", summary.TraceLinksRemoved,
	)
	return delta, nil
}

// resolveSide reads both kinds at one version from a single read
// transaction, so a concurrent commit is seen entirely or not at all.
func (s *Service) resolveSide(ctx context.Context, version model.ProjectVersion) (sideRows, error) {
	var side sideRows
	err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if side.artifacts, err = s.artifacts.ResolveRows(ctx, tx, version); err != nil {
			return err
		}
		side.traceLinks, err = s.links.ResolveRows(ctx, tx, version)
		return err
	})
	return side, err
}
