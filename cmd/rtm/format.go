package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"rtm/internal/jobs"
	"rtm/internal/matrix"
	"rtm/internal/model"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *model.Project:
		return fmt.Sprintf("Project %s (%s)", v.Name, v.ID), nil
	case *model.ProjectVersion:
		return fmt.Sprintf("Version %s (%s)", v.String(), v.ID), nil
	case *ProjectsResponseCLI:
		return formatProjectsHuman(v), nil
	case *VersionsResponseCLI:
		return formatVersionsHuman(v), nil
	case *CommitResponseCLI:
		return formatCommitHuman(v), nil
	case *DeltaResponseCLI:
		return formatDeltaHuman(v), nil
	case *SnapshotResponseCLI:
		return formatSnapshotHuman(v), nil
	case *HistoryResponseCLI:
		return formatHistoryHuman(v), nil
	case *MatrixResponseCLI:
		return formatMatrixHuman(v), nil
	case *MatrixVerifyResponseCLI:
		return formatMatrixVerifyHuman(v), nil
	case *jobs.ListJobsResponse:
		return formatJobsHuman(v), nil
	case *jobs.Job:
		return formatJobHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// ProjectsResponseCLI lists projects.
type ProjectsResponseCLI struct {
	Projects []model.Project `json:"projects"`
}

// VersionsResponseCLI lists the versions of a project.
type VersionsResponseCLI struct {
	Project  string                 `json:"project"`
	Versions []model.ProjectVersion `json:"versions"`
}

// CommitResponseCLI reports a synchronous commit or a queued job.
type CommitResponseCLI struct {
	Project string              `json:"project"`
	Version string              `json:"version"`
	JobID   string              `json:"jobId,omitempty"`
	Status  string              `json:"status"`
	Result  *model.CommitResult `json:"result,omitempty"`
}

// DeltaResponseCLI reports the difference between two versions.
type DeltaResponseCLI struct {
	Project  string              `json:"project"`
	Baseline string              `json:"baseline"`
	Target   string              `json:"target"`
	Summary  model.DeltaSummary  `json:"summary"`
	Delta    *model.ProjectDelta `json:"delta,omitempty"`
}

// SnapshotResponseCLI reports the state of a project at a version.
type SnapshotResponseCLI struct {
	Project  string                 `json:"project"`
	Version  string                 `json:"version"`
	Digest   string                 `json:"digest"`
	Stats    model.ProjectStats     `json:"stats"`
	Snapshot *model.ProjectSnapshot `json:"snapshot,omitempty"`
	Exported string                 `json:"exported,omitempty"`
}

// HistoryResponseCLI lists the snapshot rows of one artifact.
type HistoryResponseCLI struct {
	BaseID   string            `json:"baseId"`
	Versions []HistoryEntryCLI `json:"versions"`
}

// HistoryEntryCLI is one artifact snapshot row with its version number.
type HistoryEntryCLI struct {
	Version      string                 `json:"version"`
	Modification model.ModificationKind `json:"modification"`
	Content      model.ArtifactContent  `json:"content"`
}

// MatrixResponseCLI lists trace matrix cells.
type MatrixResponseCLI struct {
	Project string              `json:"project"`
	Version string              `json:"version"`
	Entries []model.MatrixEntry `json:"entries"`
	Rebuilt bool                `json:"rebuilt,omitempty"`
}

// MatrixVerifyResponseCLI reports stored cells that disagree with the log.
type MatrixVerifyResponseCLI struct {
	Project    string            `json:"project"`
	Version    string            `json:"version"`
	Consistent bool              `json:"consistent"`
	Mismatches []matrix.Mismatch `json:"mismatches"`
}

func formatProjectsHuman(resp *ProjectsResponseCLI) string {
	if len(resp.Projects) == 0 {
		return "No projects."
	}
	var b strings.Builder
	for _, p := range resp.Projects {
		b.WriteString(fmt.Sprintf("%-24s %s", p.Name, p.ID))
		if p.Description != "" {
			b.WriteString("  " + p.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatVersionsHuman(resp *VersionsResponseCLI) string {
	if len(resp.Versions) == 0 {
		return fmt.Sprintf("Project %s has no versions.", resp.Project)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Versions of %s:\n", resp.Project))
	for _, v := range resp.Versions {
		b.WriteString(fmt.Sprintf("  %-12s %s  %s\n", v.String(), v.ID, v.CreatedAt.Format("2006-01-02 15:04")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCommitHuman(resp *CommitResponseCLI) string {
	var b strings.Builder
	if resp.JobID != "" {
		b.WriteString(fmt.Sprintf("Commit job %s %s for %s %s\n", resp.JobID, resp.Status, resp.Project, resp.Version))
	} else {
		b.WriteString(fmt.Sprintf("Commit to %s %s: %s\n", resp.Project, resp.Version, resp.Status))
	}
	if resp.Result == nil {
		return strings.TrimRight(b.String(), "\n")
	}

	counts := map[model.ModificationKind]int{}
	retracted, implicit := 0, 0
	for _, a := range resp.Result.Accepted {
		if a.Retracted {
			retracted++
			continue
		}
		counts[a.Modification]++
		if a.Implicit {
			implicit++
		}
	}
	b.WriteString(fmt.Sprintf("  accepted: %d added, %d modified, %d removed",
		counts[model.Added], counts[model.Modified], counts[model.Removed]))
	if implicit > 0 {
		b.WriteString(fmt.Sprintf(" (%d implicit)", implicit))
	}
	if retracted > 0 {
		b.WriteString(fmt.Sprintf(", %d retracted", retracted))
	}
	b.WriteString("\n")

	if len(resp.Result.Errors) > 0 {
		b.WriteString(fmt.Sprintf("  rejected: %d\n", len(resp.Result.Errors)))
		for _, e := range resp.Result.Errors {
			b.WriteString(fmt.Sprintf("    [%d] %s %s: %s (%s)\n", e.Index, e.Kind, e.Key, e.Message, e.Code))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDeltaHuman(resp *DeltaResponseCLI) string {
	var b strings.Builder
	s := resp.Summary
	b.WriteString(fmt.Sprintf("Delta %s -> %s (%s)\n", resp.Baseline, resp.Target, resp.Project))
	b.WriteString(fmt.Sprintf("  artifacts:   +%d ~%d -%d\n", s.ArtifactsAdded, s.ArtifactsModified, s.ArtifactsRemoved))
	b.WriteString(fmt.Sprintf("  trace links: +%d ~%d -%d\n", s.TraceLinksAdded, s.TraceLinksModified, s.TraceLinksRemoved))
	if resp.Delta == nil {
		return strings.TrimRight(b.String(), "\n")
	}

	d := resp.Delta
	lines := []string{}
	for _, a := range d.Artifacts.Added {
		lines = append(lines, fmt.Sprintf("  + %s [%s]", a.Name, a.Type))
	}
	for _, a := range d.Artifacts.Modified {
		lines = append(lines, fmt.Sprintf("  ~ %s [%s]", a.After.Name, a.After.Type))
	}
	for _, a := range d.Artifacts.Removed {
		lines = append(lines, fmt.Sprintf("  - %s [%s]", a.Name, a.Type))
	}
	for _, l := range d.TraceLinks.Added {
		lines = append(lines, fmt.Sprintf("  + %s -> %s (%.3f %s)", l.SourceName, l.TargetName, l.Score, l.TraceType))
	}
	for _, l := range d.TraceLinks.Modified {
		lines = append(lines, fmt.Sprintf("  ~ %s -> %s (%.3f -> %.3f)", l.After.SourceName, l.After.TargetName, l.Before.Score, l.After.Score))
	}
	for _, l := range d.TraceLinks.Removed {
		lines = append(lines, fmt.Sprintf("  - %s -> %s", l.SourceName, l.TargetName))
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i][4:] < lines[j][4:] })
	b.WriteString(strings.Join(lines, "\n"))
	return strings.TrimRight(b.String(), "\n")
}

func formatSnapshotHuman(resp *SnapshotResponseCLI) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s @ %s\n", resp.Project, resp.Version))
	b.WriteString(fmt.Sprintf("  digest:      %s\n", resp.Digest))
	b.WriteString(fmt.Sprintf("  artifacts:   %d\n", resp.Stats.Artifacts))
	types := make([]string, 0, len(resp.Stats.ArtifactsByType))
	for t := range resp.Stats.ArtifactsByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		b.WriteString(fmt.Sprintf("    %-16s %d\n", t, resp.Stats.ArtifactsByType[t]))
	}
	b.WriteString(fmt.Sprintf("  trace links: %d (%d generated, %d approved)\n",
		resp.Stats.TraceLinks, resp.Stats.GeneratedLinks, resp.Stats.ApprovedLinks))
	if resp.Exported != "" {
		b.WriteString(fmt.Sprintf("  exported to: %s\n", resp.Exported))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistoryHuman(resp *HistoryResponseCLI) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("History of %s:\n", resp.BaseID))
	for _, h := range resp.Versions {
		b.WriteString(fmt.Sprintf("  %-12s %-9s %s\n", h.Version, h.Modification, h.Content.Summary))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMatrixHuman(resp *MatrixResponseCLI) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Trace matrix of %s @ %s", resp.Project, resp.Version))
	if resp.Rebuilt {
		b.WriteString(" (rebuilt)")
	}
	b.WriteString("\n")
	if len(resp.Entries) == 0 {
		b.WriteString("  (empty)")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("  %-16s %-16s %6s %9s %8s\n", "SOURCE", "TARGET", "TOTAL", "GENERATED", "APPROVED"))
	for _, e := range resp.Entries {
		b.WriteString(fmt.Sprintf("  %-16s %-16s %6d %9d %8d\n", e.SourceType, e.TargetType, e.Total, e.Generated, e.Approved))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMatrixVerifyHuman(resp *MatrixVerifyResponseCLI) string {
	if resp.Consistent {
		return fmt.Sprintf("Trace matrix of %s @ %s matches the log.", resp.Project, resp.Version)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Trace matrix of %s @ %s has %d mismatched cells:\n", resp.Project, resp.Version, len(resp.Mismatches)))
	for _, m := range resp.Mismatches {
		b.WriteString(fmt.Sprintf("  %s -> %s: stored %d/%d/%d, recomputed %d/%d/%d\n",
			m.SourceType, m.TargetType,
			m.Stored.Total, m.Stored.Generated, m.Stored.Approved,
			m.Recomputed.Total, m.Recomputed.Generated, m.Recomputed.Approved))
	}
	b.WriteString("Run 'rtm matrix rebuild' to repair.")
	return b.String()
}

func formatJobsHuman(resp *jobs.ListJobsResponse) string {
	if len(resp.Jobs) == 0 {
		return "No jobs."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d of %d jobs:\n", len(resp.Jobs), resp.TotalCount))
	for _, j := range resp.Jobs {
		b.WriteString(fmt.Sprintf("  %s  %-9s  %s  accepted=%d rejected=%d\n",
			j.ID, j.Status, j.CreatedAt.Format("2006-01-02 15:04:05"), j.Accepted, j.Rejected))
		if j.Error != "" {
			b.WriteString("    error: " + j.Error + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatJobHuman(j *jobs.Job) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Job %s\n", j.ID))
	b.WriteString(fmt.Sprintf("  status:   %s (attempts %d)\n", j.Status, j.Attempts))
	b.WriteString(fmt.Sprintf("  version:  %s\n", j.VersionID))
	b.WriteString(fmt.Sprintf("  request:  %d artifacts, %d trace links, mode %s\n",
		len(j.Request.Artifacts), len(j.Request.TraceLinks), j.Request.Mode))
	if d := j.Duration(); d > 0 {
		b.WriteString(fmt.Sprintf("  duration: %s\n", d.Round(time.Millisecond)))
	}
	if j.Error != "" {
		b.WriteString("  error:    " + j.Error + "\n")
	}
	if j.Result != nil {
		b.WriteString(fmt.Sprintf("  result:   %d accepted, %d rejected\n", len(j.Result.Accepted), len(j.Result.Errors)))
	}
	return strings.TrimRight(b.String(), "\n")
}
