// Package versioning reconstructs projects as of a version, commits batches
// of entity definitions against a version, and computes deltas between
// versions. Artifacts and trace links share one generic implementation,
// parameterized by a Kind adapter.
package versioning

import (
	"context"
	"fmt"

	"rtm/internal/model"
	"rtm/internal/storage"
)

// Converter turns a resolved payload into the application view of its
// entity.
type Converter[D any, C any] func(baseID string, content C) (D, error)

// Kind adapts one entity family to the generic resolver and delta engine.
// D is the application view, C the versioned payload.
type Kind[D any, C any] interface {
	EntityKind() model.EntityKind
	Log() *storage.VersionLog[C]
	Equal(a, b C) bool
	// Converter loads the base entities of a project once so that many
	// payloads can be converted without further queries.
	Converter(ctx context.Context, q storage.Querier, projectID string) (Converter[D, C], error)
}

type artifactKind struct {
	registry *storage.ArtifactRegistry
	log      *storage.ArtifactLog
}

func (artifactKind) EntityKind() model.EntityKind { return model.KindArtifact }

func (k artifactKind) Log() *storage.ArtifactLog { return k.log }

func (artifactKind) Equal(a, b model.ArtifactContent) bool { return a.Equal(b) }

func (k artifactKind) Converter(ctx context.Context, q storage.Querier, projectID string) (Converter[model.Artifact, model.ArtifactContent], error) {
	bases, err := k.registry.FindAllInProject(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	return func(baseID string, c model.ArtifactContent) (model.Artifact, error) {
		b, ok := bases[baseID]
		if !ok {
			return model.Artifact{}, fmt.Errorf("artifact %s not found in project %s", baseID, projectID)
		}
		return artifactView(b, c), nil
	}, nil
}

func artifactView(b model.ArtifactBase, c model.ArtifactContent) model.Artifact {
	return model.Artifact{
		BaseID:       b.ID,
		Name:         b.Name,
		Type:         b.Type,
		Summary:      c.Summary,
		Body:         c.Body,
		CustomFields: c.CustomFields,
	}
}

type traceLinkKind struct {
	artifacts *storage.ArtifactRegistry
	registry  *storage.TraceLinkRegistry
	log       *storage.TraceLinkLog
	epsilon   float64
}

func (traceLinkKind) EntityKind() model.EntityKind { return model.KindTraceLink }

func (k traceLinkKind) Log() *storage.TraceLinkLog { return k.log }

func (k traceLinkKind) Equal(a, b model.TraceLinkContent) bool { return a.Equal(b, k.epsilon) }

func (k traceLinkKind) Converter(ctx context.Context, q storage.Querier, projectID string) (Converter[model.TraceLink, model.TraceLinkContent], error) {
	artifacts, err := k.artifacts.FindAllInProject(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	links, err := k.registry.FindAllInProject(ctx, q, projectID)
	if err != nil {
		return nil, err
	}
	return func(baseID string, c model.TraceLinkContent) (model.TraceLink, error) {
		l, ok := links[baseID]
		if !ok {
			return model.TraceLink{}, fmt.Errorf("trace link %s not found in project %s", baseID, projectID)
		}
		return traceLinkView(l, artifacts[l.SourceID], artifacts[l.TargetID], c), nil
	}, nil
}

func traceLinkView(l model.TraceLinkBase, source, target model.ArtifactBase, c model.TraceLinkContent) model.TraceLink {
	return model.TraceLink{
		BaseID:      l.ID,
		SourceID:    l.SourceID,
		TargetID:    l.TargetID,
		SourceName:  source.Name,
		TargetName:  target.Name,
		SourceType:  source.Type,
		TargetType:  target.Type,
		Score:       c.Score,
		TraceType:   c.TraceType,
		Approval:    c.Approval,
		Explanation: c.Explanation,
	}
}
