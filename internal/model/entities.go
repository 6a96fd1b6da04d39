package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Bounds of the version triple; the rank packs it into one int64.
const (
	MaxMajor    = 1<<23 - 1
	MaxMinor    = 1<<20 - 1
	MaxRevision = 1<<20 - 1
)

// DefaultScoreEpsilon is the tolerance used when comparing trace link scores.
const DefaultScoreEpsilon = 1e-3

// Project owns artifacts, trace links and an ordered list of versions.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProjectVersion is an immutable point in a project's history. Versions of the
// same project are totally ordered by (Major, Minor, Revision).
type ProjectVersion struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Major     int       `json:"major"`
	Minor     int       `json:"minor"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
}

// VersionRank packs a version triple into a single sortable integer.
func VersionRank(major, minor, revision int) (int64, error) {
	if major < 0 || major > MaxMajor {
		return 0, fmt.Errorf("major %d out of range [0, %d]", major, MaxMajor)
	}
	if minor < 0 || minor > MaxMinor {
		return 0, fmt.Errorf("minor %d out of range [0, %d]", minor, MaxMinor)
	}
	if revision < 0 || revision > MaxRevision {
		return 0, fmt.Errorf("revision %d out of range [0, %d]", revision, MaxRevision)
	}
	return int64(major)<<40 | int64(minor)<<20 | int64(revision), nil
}

// Rank returns the version's position in its project's order. The triple is
// validated when the version is created, so the error case cannot occur for
// persisted versions.
func (v ProjectVersion) Rank() int64 {
	rank, _ := VersionRank(v.Major, v.Minor, v.Revision)
	return rank
}

// String renders the version as major.minor.revision.
func (v ProjectVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Less orders two versions of the same project.
func (v ProjectVersion) Less(other ProjectVersion) bool {
	return v.Rank() < other.Rank()
}

// Next returns the triple that follows v for the given increment.
func (v ProjectVersion) Next(inc VersionIncrement) (major, minor, revision int) {
	switch inc {
	case IncrementMajor:
		return v.Major + 1, 0, 0
	case IncrementMinor:
		return v.Major, v.Minor + 1, 0
	default:
		return v.Major, v.Minor, v.Revision + 1
	}
}

// ParseVersionTriple parses "major.minor.revision". Missing trailing
// components default to zero ("2" is 2.0.0).
func ParseVersionTriple(s string) (major, minor, revision int, err error) {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return 0, 0, 0, fmt.Errorf("invalid version %q", s)
	}
	values := [3]int{}
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version %q", s)
		}
		values[i] = n
	}
	return values[0], values[1], values[2], nil
}

// ArtifactBase is the identity of one logical artifact. Generation
// distinguishes successive incarnations of a name that was removed and later
// added again.
type ArtifactBase struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TraceLinkBase is the identity of one directed link between two artifacts.
type TraceLinkBase struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	SourceID   string    `json:"sourceId"`
	TargetID   string    `json:"targetId"`
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArtifactKey is the natural key of an artifact: its name compared
// case-insensitively within a project.
func ArtifactKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TraceLinkKey is the natural key of a trace link: the ordered pair of the
// artifact identities it connects.
func TraceLinkKey(sourceID, targetID string) string {
	return sourceID + "->" + targetID
}

// ArtifactContent is the versioned payload of an artifact.
type ArtifactContent struct {
	Summary      string            `json:"summary,omitempty"`
	Body         string            `json:"body,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Equal compares two artifact payloads field by field. A nil and an empty
// custom field map are equal.
func (c ArtifactContent) Equal(other ArtifactContent) bool {
	if c.Summary != other.Summary || c.Body != other.Body {
		return false
	}
	if len(c.CustomFields) != len(other.CustomFields) {
		return false
	}
	for k, v := range c.CustomFields {
		if ov, ok := other.CustomFields[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// TraceLinkContent is the versioned payload of a trace link.
type TraceLinkContent struct {
	Score       float64        `json:"score"`
	TraceType   TraceType      `json:"traceType"`
	Approval    ApprovalStatus `json:"approvalStatus"`
	Explanation string         `json:"explanation,omitempty"`
}

// Equal compares two trace link payloads; scores within epsilon are equal.
func (c TraceLinkContent) Equal(other TraceLinkContent, epsilon float64) bool {
	return c.TraceType == other.TraceType &&
		c.Approval == other.Approval &&
		c.Explanation == other.Explanation &&
		math.Abs(c.Score-other.Score) <= epsilon
}

// VersionEntity is a content snapshot of a base entity at one project
// version. At most one exists per (BaseID, VersionID).
type VersionEntity[C any] struct {
	ID          string           `json:"id"`
	BaseID      string           `json:"baseId"`
	ProjectID   string           `json:"projectId"`
	VersionID   string           `json:"versionId"`
	VersionRank int64            `json:"versionRank"`
	Kind        ModificationKind `json:"modification"`
	Content     C                `json:"content"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// ArtifactVersion is the artifact snapshot row.
type ArtifactVersion = VersionEntity[ArtifactContent]

// TraceLinkVersion is the trace link snapshot row.
type TraceLinkVersion = VersionEntity[TraceLinkContent]

// Artifact is the application-facing view of an artifact at a version.
type Artifact struct {
	BaseID       string            `json:"baseId"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Summary      string            `json:"summary,omitempty"`
	Body         string            `json:"body,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Content extracts the versioned payload.
func (a Artifact) Content() ArtifactContent {
	return ArtifactContent{Summary: a.Summary, Body: a.Body, CustomFields: a.CustomFields}
}

// TraceLink is the application-facing view of a trace link at a version.
type TraceLink struct {
	BaseID      string         `json:"baseId"`
	SourceID    string         `json:"sourceId"`
	TargetID    string         `json:"targetId"`
	SourceName  string         `json:"sourceName"`
	TargetName  string         `json:"targetName"`
	SourceType  string         `json:"sourceType"`
	TargetType  string         `json:"targetType"`
	Score       float64        `json:"score"`
	TraceType   TraceType      `json:"traceType"`
	Approval    ApprovalStatus `json:"approvalStatus"`
	Explanation string         `json:"explanation,omitempty"`
}

// Content extracts the versioned payload.
func (l TraceLink) Content() TraceLinkContent {
	return TraceLinkContent{Score: l.Score, TraceType: l.TraceType, Approval: l.Approval, Explanation: l.Explanation}
}

// ProjectSnapshot is the full state of a project at one version.
type ProjectSnapshot struct {
	Version    ProjectVersion       `json:"version"`
	Artifacts  map[string]Artifact  `json:"artifacts"`
	TraceLinks map[string]TraceLink `json:"traceLinks"`
}

// MatrixCounts are the counters of one trace matrix entry.
type MatrixCounts struct {
	Total     int64 `json:"total"`
	Generated int64 `json:"generated"`
	Approved  int64 `json:"approved"`
}

// IsZero reports whether all counters are zero.
func (c MatrixCounts) IsZero() bool {
	return c.Total == 0 && c.Generated == 0 && c.Approved == 0
}

// Add returns the counter-wise sum.
func (c MatrixCounts) Add(other MatrixCounts) MatrixCounts {
	return MatrixCounts{
		Total:     c.Total + other.Total,
		Generated: c.Generated + other.Generated,
		Approved:  c.Approved + other.Approved,
	}
}

// Negate flips the sign of every counter.
func (c MatrixCounts) Negate() MatrixCounts {
	return MatrixCounts{Total: -c.Total, Generated: -c.Generated, Approved: -c.Approved}
}

// LinkContribution is what a single live link adds to its matrix entry.
func LinkContribution(content TraceLinkContent) MatrixCounts {
	counts := MatrixCounts{Total: 1}
	if CountsAsGenerated(content.TraceType) {
		counts.Generated = 1
	}
	if CountsAsApproved(content.TraceType, content.Approval) {
		counts.Approved = 1
	}
	return counts
}

// TypePair identifies a trace matrix cell.
type TypePair struct {
	SourceType string `json:"sourceType"`
	TargetType string `json:"targetType"`
}

// MatrixEntry is one trace matrix cell at a version.
type MatrixEntry struct {
	VersionID string `json:"versionId"`
	TypePair
	MatrixCounts
}

// ProjectStats summarizes a project snapshot.
type ProjectStats struct {
	Artifacts       int            `json:"artifacts"`
	ArtifactsByType map[string]int `json:"artifactsByType"`
	TraceLinks      int            `json:"traceLinks"`
	GeneratedLinks  int            `json:"generatedLinks"`
	ApprovedLinks   int            `json:"approvedLinks"`
}
