package versioning

import (
	"context"

	"rtm/internal/model"
	"rtm/internal/storage"
)

// Resolver reconstructs entities of one kind as of a project version. The
// state of an entity at V is its row with the greatest version not above V;
// a REMOVED row, or no row at all, means absent.
type Resolver[D any, C any] struct {
	kind Kind[D, C]
}

// NewResolver creates a resolver for a kind.
func NewResolver[D any, C any](kind Kind[D, C]) *Resolver[D, C] {
	return &Resolver[D, C]{kind: kind}
}

// ResolveEntity returns the effective row of one entity at version, or nil
// when the entity is absent there.
func (r *Resolver[D, C]) ResolveEntity(ctx context.Context, q storage.Querier, version model.ProjectVersion, baseID string) (*model.VersionEntity[C], error) {
	return r.resolveAtRank(ctx, q, baseID, version.Rank())
}

func (r *Resolver[D, C]) resolveAtRank(ctx context.Context, q storage.Querier, baseID string, rank int64) (*model.VersionEntity[C], error) {
	row, err := r.kind.Log().LatestAtOrBefore(ctx, q, baseID, rank)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Kind == model.Removed {
		return nil, nil
	}
	return row, nil
}

// ResolveRows returns the effective row of every entity present at version,
// keyed by base id.
func (r *Resolver[D, C]) ResolveRows(ctx context.Context, q storage.Querier, version model.ProjectVersion) (map[string]model.VersionEntity[C], error) {
	rows, err := r.kind.Log().LatestForProjectAtOrBefore(ctx, q, version.ProjectID, version.Rank())
	if err != nil {
		return nil, err
	}
	live := make(map[string]model.VersionEntity[C], len(rows))
	for _, row := range rows {
		if row.Kind == model.Removed {
			continue
		}
		live[row.BaseID] = row
	}
	return live, nil
}

// ResolveProject returns the application view of every entity present at
// version, keyed by base id.
func (r *Resolver[D, C]) ResolveProject(ctx context.Context, q storage.Querier, version model.ProjectVersion) (map[string]D, error) {
	rows, err := r.ResolveRows(ctx, q, version)
	if err != nil {
		return nil, err
	}
	convert, err := r.kind.Converter(ctx, q, version.ProjectID)
	if err != nil {
		return nil, err
	}
	return convertRows(rows, convert)
}

func convertRows[D any, C any](rows map[string]model.VersionEntity[C], convert Converter[D, C]) (map[string]D, error) {
	out := make(map[string]D, len(rows))
	for id, row := range rows {
		d, err := convert(id, row.Content)
		if err != nil {
			return nil, err
		}
		out[id] = d
	}
	return out, nil
}
