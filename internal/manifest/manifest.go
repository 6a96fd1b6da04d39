// Package manifest reads and writes commit request files. A manifest names
// the target version and lists artifact and trace link definitions in YAML,
// TOML or JSON.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// Format is a manifest encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown manifest format %q", s)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer manifest format of %q", path)
	}
	return ParseFormat(ext)
}

// Manifest is the file form of a commit request. Version is a version ref
// ("1.2.0" or "latest") resolved by the caller.
type Manifest struct {
	Version      string                      `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Mode         string                      `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	AllOrNothing *bool                       `json:"allOrNothing,omitempty" yaml:"allOrNothing,omitempty" toml:"allOrNothing,omitempty"`
	Artifacts    []model.ArtifactDefinition  `json:"artifacts,omitempty" yaml:"artifacts,omitempty" toml:"artifacts,omitempty"`
	TraceLinks   []model.TraceLinkDefinition `json:"traceLinks,omitempty" yaml:"traceLinks,omitempty" toml:"traceLinks,omitempty"`
}

// Load reads a manifest file, inferring the format from its extension.
func Load(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a manifest. Unknown keys are rejected in every format.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML manifest: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys in TOML manifest: %s", strings.Join(keys, ", "))
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse JSON manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	return &m, nil
}

// Request builds the commit request for versionID. allOrNothing applies
// when the manifest does not set it.
func (m *Manifest) Request(versionID string, allOrNothing bool) (model.CommitRequest, error) {
	mode, err := model.ParseCommitMode(m.Mode)
	if err != nil {
		return model.CommitRequest{}, rtmerrors.Wrap(rtmerrors.InvalidArgument, "invalid manifest mode", err)
	}
	if m.AllOrNothing != nil {
		allOrNothing = *m.AllOrNothing
	}

	links := make([]model.TraceLinkDefinition, len(m.TraceLinks))
	for i, l := range m.TraceLinks {
		if l.TraceType, err = model.ParseTraceType(string(l.TraceType)); err != nil {
			return model.CommitRequest{}, rtmerrors.Wrap(rtmerrors.InvalidArgument, fmt.Sprintf("traceLinks[%d]", i), err)
		}
		if l.Approval, err = model.ParseApprovalStatus(string(l.Approval)); err != nil {
			return model.CommitRequest{}, rtmerrors.Wrap(rtmerrors.InvalidArgument, fmt.Sprintf("traceLinks[%d]", i), err)
		}
		links[i] = l
	}

	return model.CommitRequest{
		VersionID:    versionID,
		Mode:         mode,
		AllOrNothing: allOrNothing,
		Artifacts:    append([]model.ArtifactDefinition(nil), m.Artifacts...),
		TraceLinks:   links,
	}, nil
}

// FromSnapshot renders a resolved project state as a COMPLETE_SET manifest.
// Committing it to another version reproduces the snapshot there.
func FromSnapshot(s *model.ProjectSnapshot) *Manifest {
	m := &Manifest{
		Version: s.Version.String(),
		Mode:    string(model.CompleteSet),
	}
	for _, a := range s.Artifacts {
		m.Artifacts = append(m.Artifacts, model.ArtifactDefinition{
			Name:         a.Name,
			Type:         a.Type,
			Summary:      a.Summary,
			Body:         a.Body,
			CustomFields: a.CustomFields,
		})
	}
	for _, l := range s.TraceLinks {
		m.TraceLinks = append(m.TraceLinks, model.TraceLinkDefinition{
			Source:      l.SourceName,
			Target:      l.TargetName,
			Score:       l.Score,
			TraceType:   l.TraceType,
			Approval:    l.Approval,
			Explanation: l.Explanation,
		})
	}
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Name < m.Artifacts[j].Name })
	sort.Slice(m.TraceLinks, func(i, j int) bool {
		if m.TraceLinks[i].Source != m.TraceLinks[j].Source {
			return m.TraceLinks[i].Source < m.TraceLinks[j].Source
		}
		return m.TraceLinks[i].Target < m.TraceLinks[j].Target
	})
	return m
}

// Encode writes the manifest in the given format.
func (m *Manifest) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode YAML manifest: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(m); err != nil {
			return fmt.Errorf("failed to encode TOML manifest: %w", err)
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode JSON manifest: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown manifest format %q", format)
}
