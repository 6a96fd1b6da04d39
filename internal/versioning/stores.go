package versioning

import (
	"rtm/internal/model"
	"rtm/internal/storage"
)

// stores bundles the repositories and kind adapters over one database.
type stores struct {
	db *storage.DB

	projects         *storage.ProjectRepository
	versions         *storage.VersionRepository
	artifactRegistry *storage.ArtifactRegistry
	linkRegistry     *storage.TraceLinkRegistry
	artifactLog      *storage.ArtifactLog
	linkLog          *storage.TraceLinkLog
	matrixStore      *storage.MatrixStore

	artifactKind Kind[model.Artifact, model.ArtifactContent]
	linkKind     Kind[model.TraceLink, model.TraceLinkContent]
	artifacts    *Resolver[model.Artifact, model.ArtifactContent]
	links        *Resolver[model.TraceLink, model.TraceLinkContent]
}

func newStores(db *storage.DB, scoreEpsilon float64) *stores {
	s := &stores{
		db:               db,
		projects:         storage.NewProjectRepository(db),
		versions:         storage.NewVersionRepository(db),
		artifactRegistry: storage.NewArtifactRegistry(db),
		linkRegistry:     storage.NewTraceLinkRegistry(db),
		artifactLog:      storage.NewArtifactLog(db),
		linkLog:          storage.NewTraceLinkLog(db),
		matrixStore:      storage.NewMatrixStore(db),
	}
	s.artifactKind = artifactKind{registry: s.artifactRegistry, log: s.artifactLog}
	s.linkKind = traceLinkKind{
		artifacts: s.artifactRegistry,
		registry:  s.linkRegistry,
		log:       s.linkLog,
		epsilon:   scoreEpsilon,
	}
	s.artifacts = NewResolver[model.Artifact, model.ArtifactContent](s.artifactKind)
	s.links = NewResolver[model.TraceLink, model.TraceLinkContent](s.linkKind)
	return s
}
