// Package model holds the data model shared by the versioned store: projects,
// project versions, base entities, version entities and the closed tag sets
// (modification kind, trace type, approval status) that classify them.
package model

import (
	"fmt"
	"strings"
)

// ModificationKind tags a version entity with how it changed relative to the
// previous version of its project.
type ModificationKind string

const (
	Added    ModificationKind = "ADDED"
	Modified ModificationKind = "MODIFIED"
	Removed  ModificationKind = "REMOVED"
)

// TraceType records where a trace link came from.
type TraceType string

const (
	TraceManual    TraceType = "MANUAL"
	TraceGenerated TraceType = "GENERATED"
)

// ApprovalStatus is the review state of a trace link.
type ApprovalStatus string

const (
	Unreviewed ApprovalStatus = "UNREVIEWED"
	Approved   ApprovalStatus = "APPROVED"
	Declined   ApprovalStatus = "DECLINED"
)

// CommitMode selects how a commit treats entities it does not mention.
type CommitMode string

const (
	// Incremental leaves unmentioned entities untouched.
	Incremental CommitMode = "INCREMENTAL"
	// CompleteSet removes every live entity the request does not mention.
	CompleteSet CommitMode = "COMPLETE_SET"
)

// EntityKind distinguishes the two versioned entity families.
type EntityKind string

const (
	KindArtifact  EntityKind = "artifact"
	KindTraceLink EntityKind = "trace_link"
)

// VersionIncrement selects which component of a version triple is bumped.
type VersionIncrement string

const (
	IncrementMajor    VersionIncrement = "MAJOR"
	IncrementMinor    VersionIncrement = "MINOR"
	IncrementRevision VersionIncrement = "REVISION"
)

// ParseModificationKind parses a modification kind, case-insensitively.
func ParseModificationKind(s string) (ModificationKind, error) {
	switch ModificationKind(strings.ToUpper(strings.TrimSpace(s))) {
	case Added:
		return Added, nil
	case Modified:
		return Modified, nil
	case Removed:
		return Removed, nil
	}
	return "", fmt.Errorf("unknown modification kind %q", s)
}

// ParseTraceType parses a trace type. An empty string is MANUAL.
func ParseTraceType(s string) (TraceType, error) {
	switch TraceType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", TraceManual:
		return TraceManual, nil
	case TraceGenerated:
		return TraceGenerated, nil
	}
	return "", fmt.Errorf("unknown trace type %q", s)
}

// ParseApprovalStatus parses an approval status. An empty string yields the
// empty status, which callers replace with DefaultApproval.
func ParseApprovalStatus(s string) (ApprovalStatus, error) {
	switch ApprovalStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case Unreviewed:
		return Unreviewed, nil
	case Approved:
		return Approved, nil
	case Declined:
		return Declined, nil
	}
	return "", fmt.Errorf("unknown approval status %q", s)
}

// ParseCommitMode parses a commit mode. An empty string is INCREMENTAL.
func ParseCommitMode(s string) (CommitMode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch CommitMode(normalized) {
	case "", Incremental:
		return Incremental, nil
	case CompleteSet:
		return CompleteSet, nil
	}
	return "", fmt.Errorf("unknown commit mode %q", s)
}

// ParseVersionIncrement parses a version increment.
func ParseVersionIncrement(s string) (VersionIncrement, error) {
	switch VersionIncrement(strings.ToUpper(strings.TrimSpace(s))) {
	case IncrementMajor:
		return IncrementMajor, nil
	case IncrementMinor:
		return IncrementMinor, nil
	case IncrementRevision:
		return IncrementRevision, nil
	}
	return "", fmt.Errorf("unknown version increment %q", s)
}

// DefaultApproval is the approval status a link receives when the caller
// does not state one. Curated links are approved by the act of creating them;
// generated links wait for review.
func DefaultApproval(t TraceType) ApprovalStatus {
	if t == TraceGenerated {
		return Unreviewed
	}
	return Approved
}

// CanOverride reports whether content of type incoming may replace content of
// type previous. A generated link never replaces a manual one.
func CanOverride(previous, incoming TraceType) bool {
	return !(previous == TraceManual && incoming == TraceGenerated)
}

// CountsAsGenerated reports whether a link contributes to the generated counter
// of a trace matrix entry.
func CountsAsGenerated(t TraceType) bool {
	return t == TraceGenerated
}

// CountsAsApproved reports whether a link contributes to the approved counter
// of a trace matrix entry: generated and approved.
func CountsAsApproved(t TraceType, s ApprovalStatus) bool {
	return t == TraceGenerated && s == Approved
}

// Classify decides the modification kind for an incoming definition given
// whether the entity was present before, whether the incoming definition keeps
// it present, and whether the content is unchanged. write is false when no row
// must be recorded. ok is false for a delete of an entity that does not exist.
func Classify(previousPresent, incomingPresent, equal bool) (kind ModificationKind, write bool, ok bool) {
	switch {
	case !previousPresent && incomingPresent:
		return Added, true, true
	case previousPresent && !incomingPresent:
		return Removed, true, true
	case previousPresent && incomingPresent && !equal:
		return Modified, true, true
	case previousPresent && incomingPresent && equal:
		return "", false, true
	}
	return "", false, false
}
