package model

// ArtifactDefinition is an incoming artifact in a commit request.
type ArtifactDefinition struct {
	Name         string            `json:"name" yaml:"name" toml:"name"`
	Type         string            `json:"type" yaml:"type" toml:"type"`
	Summary      string            `json:"summary,omitempty" yaml:"summary,omitempty" toml:"summary,omitempty"`
	Body         string            `json:"body,omitempty" yaml:"body,omitempty" toml:"body,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty" yaml:"customFields,omitempty" toml:"customFields,omitempty"`
	Delete       bool              `json:"delete,omitempty" yaml:"delete,omitempty" toml:"delete,omitempty"`
}

// Content extracts the versioned payload.
func (d ArtifactDefinition) Content() ArtifactContent {
	return ArtifactContent{Summary: d.Summary, Body: d.Body, CustomFields: d.CustomFields}
}

// TraceLinkDefinition is an incoming trace link in a commit request. Source
// and Target are artifact names.
type TraceLinkDefinition struct {
	Source      string         `json:"source" yaml:"source" toml:"source"`
	Target      string         `json:"target" yaml:"target" toml:"target"`
	Score       float64        `json:"score,omitempty" yaml:"score,omitempty" toml:"score,omitempty"`
	TraceType   TraceType      `json:"traceType,omitempty" yaml:"traceType,omitempty" toml:"traceType,omitempty"`
	Approval    ApprovalStatus `json:"approvalStatus,omitempty" yaml:"approvalStatus,omitempty" toml:"approvalStatus,omitempty"`
	Explanation string         `json:"explanation,omitempty" yaml:"explanation,omitempty" toml:"explanation,omitempty"`
	Delete      bool           `json:"delete,omitempty" yaml:"delete,omitempty" toml:"delete,omitempty"`
}

// Content extracts the versioned payload, applying the default trace type
// and approval status.
func (d TraceLinkDefinition) Content() TraceLinkContent {
	traceType := d.TraceType
	if traceType == "" {
		traceType = TraceManual
	}
	approval := d.Approval
	if approval == "" {
		approval = DefaultApproval(traceType)
	}
	return TraceLinkContent{
		Score:       d.Score,
		TraceType:   traceType,
		Approval:    approval,
		Explanation: d.Explanation,
	}
}

// CommitRequest is a batch of entity definitions targeting one version.
type CommitRequest struct {
	VersionID    string                `json:"versionId"`
	Mode         CommitMode            `json:"mode"`
	AllOrNothing bool                  `json:"allOrNothing,omitempty"`
	Artifacts    []ArtifactDefinition  `json:"artifacts,omitempty"`
	TraceLinks   []TraceLinkDefinition `json:"traceLinks,omitempty"`
}

// CommitError describes why one incoming entity was not committed.
type CommitError struct {
	Index   int        `json:"index"`
	Kind    EntityKind `json:"kind"`
	Key     string     `json:"key"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

// Error implements error so a CommitError can be wrapped by callers.
func (e CommitError) Error() string {
	return string(e.Kind) + " " + e.Key + ": " + e.Message
}

// AcceptedEntity is a version entity row written by a commit. Implicit marks
// rows the caller did not name: complete-set removals and cascades.
type AcceptedEntity struct {
	Kind            EntityKind       `json:"kind"`
	Key             string           `json:"key"`
	BaseID          string           `json:"baseId"`
	VersionEntityID string           `json:"versionEntityId,omitempty"`
	Modification    ModificationKind `json:"modification"`
	Implicit        bool             `json:"implicit,omitempty"`
	Retracted       bool             `json:"retracted,omitempty"`
}

// CommitResult is the outcome of a commit: what was written and what was
// rejected.
type CommitResult struct {
	VersionID string           `json:"versionId"`
	Accepted  []AcceptedEntity `json:"accepted"`
	Errors    []CommitError    `json:"errors"`
}

// HasErrors reports whether any entity was rejected.
func (r *CommitResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// ModifiedPair holds both sides of a modified entity.
type ModifiedPair[D any] struct {
	Before D `json:"before"`
	After  D `json:"after"`
}

// EntityDelta is the difference between two resolved states of one entity
// kind, keyed by base entity id.
type EntityDelta[D any] struct {
	Added    map[string]D               `json:"added"`
	Removed  map[string]D               `json:"removed"`
	Modified map[string]ModifiedPair[D] `json:"modified"`
}

// NewEntityDelta returns a delta with empty maps.
func NewEntityDelta[D any]() EntityDelta[D] {
	return EntityDelta[D]{
		Added:    map[string]D{},
		Removed:  map[string]D{},
		Modified: map[string]ModifiedPair[D]{},
	}
}

// IsEmpty reports whether nothing changed.
func (d EntityDelta[D]) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// ProjectDelta is the difference between two versions of one project.
type ProjectDelta struct {
	Baseline   ProjectVersion         `json:"baseline"`
	Target     ProjectVersion         `json:"target"`
	Artifacts  EntityDelta[Artifact]  `json:"artifacts"`
	TraceLinks EntityDelta[TraceLink] `json:"traceLinks"`
}

// DeltaSummary counts the entries of a ProjectDelta.
type DeltaSummary struct {
	ArtifactsAdded     int `json:"artifactsAdded"`
	ArtifactsModified  int `json:"artifactsModified"`
	ArtifactsRemoved   int `json:"artifactsRemoved"`
	TraceLinksAdded    int `json:"traceLinksAdded"`
	TraceLinksModified int `json:"traceLinksModified"`
	TraceLinksRemoved  int `json:"traceLinksRemoved"`
}

// Summary counts the delta's entries.
func (d ProjectDelta) Summary() DeltaSummary {
	return DeltaSummary{
		ArtifactsAdded:     len(d.Artifacts.Added),
		ArtifactsModified:  len(d.Artifacts.Modified),
		ArtifactsRemoved:   len(d.Artifacts.Removed),
		TraceLinksAdded:    len(d.TraceLinks.Added),
		TraceLinksModified: len(d.TraceLinks.Modified),
		TraceLinksRemoved:  len(d.TraceLinks.Removed),
	}
}
