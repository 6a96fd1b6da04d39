// Package matrix maintains the per-version trace matrix: for every pair of
// artifact types, how many live trace links run from the first type to the
// second, how many of them were generated, and how many generated links were
// approved.
//
// Counters are adjusted incrementally inside the commit transaction. A
// version's counters also describe every later version that carries the same
// state forward, so an adjustment at version V is applied to V and to all
// later versions of the project.
package matrix

import (
	"context"
	"log/slog"
	"sort"

	"rtm/internal/model"
	"rtm/internal/storage"
)

// Maintainer applies trace link changes to the stored matrix.
type Maintainer struct {
	store  *storage.MatrixStore
	logger *slog.Logger
}

// NewMaintainer creates a maintainer over the matrix store.
func NewMaintainer(store *storage.MatrixStore, logger *slog.Logger) *Maintainer {
	return &Maintainer{store: store, logger: logger}
}

// Apply moves a link's contribution from previous to updated. Either side
// may be nil for an absent link. The pair is fixed for a link's lifetime
// because artifact types and link endpoints are immutable.
func (m *Maintainer) Apply(ctx context.Context, q storage.Querier, version model.ProjectVersion, pair model.TypePair, previous, updated *model.TraceLinkContent) error {
	delta := Contribution(updated).Add(Contribution(previous).Negate())
	if delta.IsZero() {
		return nil
	}
	m.logger.Debug("Adjusting trace matrix",
		"version", version.String(),
		"source_type", pair.SourceType,
		"target_type", pair.TargetType,
		"total", delta.Total,
		"generated", delta.Generated,
		"approved", delta.Approved,
	)
	return m.store.AdjustFrom(ctx, q, version.ProjectID, version.Rank(), pair, delta)
}

// Seed initializes a new version's counters from its predecessor. A version
// without predecessor starts empty.
func (m *Maintainer) Seed(ctx context.Context, q storage.Querier, version model.ProjectVersion, predecessor *model.ProjectVersion) error {
	if predecessor == nil {
		return nil
	}
	return m.store.CopyFrom(ctx, q, predecessor.ID, version)
}

// Get returns one cell; a missing cell is all zeros.
func (m *Maintainer) Get(ctx context.Context, q storage.Querier, versionID string, pair model.TypePair) (model.MatrixCounts, error) {
	return m.store.Get(ctx, q, versionID, pair)
}

// List returns every non-zero cell of a version.
func (m *Maintainer) List(ctx context.Context, q storage.Querier, versionID string) ([]model.MatrixEntry, error) {
	return m.store.ListForVersion(ctx, q, versionID)
}

// Contribution is what one link state adds to its cell; nil adds nothing.
func Contribution(content *model.TraceLinkContent) model.MatrixCounts {
	if content == nil {
		return model.MatrixCounts{}
	}
	return model.LinkContribution(*content)
}

// Tally counts the live links of one version from scratch.
func Tally(versionID string, links map[string]model.TraceLink) []model.MatrixEntry {
	cells := make(map[model.TypePair]model.MatrixCounts)
	for _, l := range links {
		pair := model.TypePair{SourceType: l.SourceType, TargetType: l.TargetType}
		cells[pair] = cells[pair].Add(model.LinkContribution(l.Content()))
	}
	entries := make([]model.MatrixEntry, 0, len(cells))
	for pair, counts := range cells {
		entries = append(entries, model.MatrixEntry{VersionID: versionID, TypePair: pair, MatrixCounts: counts})
	}
	sortEntries(entries)
	return entries
}

// Mismatch is a cell whose stored counters differ from a recomputation.
type Mismatch struct {
	model.TypePair
	Stored     model.MatrixCounts `json:"stored"`
	Recomputed model.MatrixCounts `json:"recomputed"`
}

// Verify compares the stored cells of a version with a recomputation from
// its live links.
func (m *Maintainer) Verify(ctx context.Context, q storage.Querier, version model.ProjectVersion, links map[string]model.TraceLink) ([]Mismatch, error) {
	stored, err := m.store.ListForVersion(ctx, q, version.ID)
	if err != nil {
		return nil, err
	}
	return Compare(stored, Tally(version.ID, links)), nil
}

// Rebuild replaces the stored cells of a version with a recomputation.
// Only that version is touched.
func (m *Maintainer) Rebuild(ctx context.Context, q storage.Querier, version model.ProjectVersion, links map[string]model.TraceLink) ([]model.MatrixEntry, error) {
	entries := Tally(version.ID, links)
	if err := m.store.ReplaceForVersion(ctx, q, version, entries); err != nil {
		return nil, err
	}
	m.logger.Info("Rebuilt trace matrix", "version", version.String(), "cells", len(entries))
	return entries, nil
}

// Compare reports every cell that differs between two listings.
func Compare(stored, recomputed []model.MatrixEntry) []Mismatch {
	cells := make(map[model.TypePair]*Mismatch)
	get := func(p model.TypePair) *Mismatch {
		if mm, ok := cells[p]; ok {
			return mm
		}
		mm := &Mismatch{TypePair: p}
		cells[p] = mm
		return mm
	}
	for _, e := range stored {
		get(e.TypePair).Stored = e.MatrixCounts
	}
	for _, e := range recomputed {
		get(e.TypePair).Recomputed = e.MatrixCounts
	}

	var out []Mismatch
	for _, mm := range cells {
		if mm.Stored != mm.Recomputed {
			out = append(out, *mm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessPair(out[i].TypePair, out[j].TypePair)
	})
	return out
}

func sortEntries(entries []model.MatrixEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return lessPair(entries[i].TypePair, entries[j].TypePair)
	})
}

func lessPair(a, b model.TypePair) bool {
	if a.SourceType != b.SourceType {
		return a.SourceType < b.SourceType
	}
	return a.TargetType < b.TargetType
}
