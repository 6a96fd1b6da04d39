package versioning

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"rtm/internal/model"
)

// StatsMemo caches project statistics for the lifetime of one request.
// Concurrent lookups of the same version share a single computation.
type StatsMemo struct {
	group singleflight.Group

	mu    sync.Mutex
	stats map[string]model.ProjectStats
}

// NewStatsMemo creates an empty memo.
func NewStatsMemo() *StatsMemo {
	return &StatsMemo{stats: make(map[string]model.ProjectStats)}
}

// Len returns the number of cached versions.
func (m *StatsMemo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stats)
}

func (m *StatsMemo) get(ctx context.Context, versionID string, compute func(context.Context, string) (model.ProjectStats, error)) (model.ProjectStats, error) {
	m.mu.Lock()
	if stats, ok := m.stats[versionID]; ok {
		m.mu.Unlock()
		return stats, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(versionID, func() (interface{}, error) {
		stats, err := compute(ctx, versionID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.stats[versionID] = stats
		m.mu.Unlock()
		return stats, nil
	})
	if err != nil {
		return model.ProjectStats{}, err
	}
	return v.(model.ProjectStats), nil
}
