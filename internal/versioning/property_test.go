package versioning

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"rtm/internal/model"
)

// refState is the expected project state, keyed by artifact name and
// "source->target".
type refState struct {
	artifacts map[string]model.ArtifactContent
	links     map[string]model.TraceLinkContent
}

func newRefState() *refState {
	return &refState{artifacts: map[string]model.ArtifactContent{}, links: map[string]model.TraceLinkContent{}}
}

func (s *refState) clone() *refState {
	c := newRefState()
	for k, v := range s.artifacts {
		c.artifacts[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	return c
}

func (s *refState) removeArtifact(name string) {
	delete(s.artifacts, name)
	for key := range s.links {
		source, target, _ := strings.Cut(key, "->")
		if source == name || target == name {
			delete(s.links, key)
		}
	}
}

func (s *refState) liveNames() []string {
	names := make([]string, 0, len(s.artifacts))
	for n := range s.artifacts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var namePool = []string{"A", "B", "C", "D", "E", "F"}

func typeOf(name string) string {
	switch name {
	case "A", "B":
		return "requirement"
	case "C", "D":
		return "code"
	}
	return "test"
}

func randomArtifactContent(rng *rand.Rand) model.ArtifactContent {
	c := model.ArtifactContent{Summary: fmt.Sprintf("summary %d", rng.Intn(3))}
	if rng.Intn(2) == 0 {
		c.Body = strings.Repeat(fmt.Sprintf("body %d ", rng.Intn(2)), 20)
	}
	if rng.Intn(2) == 0 {
		c.CustomFields = map[string]string{"priority": fmt.Sprintf("p%d", rng.Intn(2))}
	}
	return c
}

func randomLinkDefinition(rng *rand.Rand, source, target string) model.TraceLinkDefinition {
	types := []model.TraceType{model.TraceManual, model.TraceGenerated}
	approvals := []model.ApprovalStatus{"", model.Approved, model.Declined, model.Unreviewed}
	scores := []float64{0.2, 0.5, 0.8}
	return model.TraceLinkDefinition{
		Source:    source,
		Target:    target,
		Score:     scores[rng.Intn(len(scores))],
		TraceType: types[rng.Intn(len(types))],
		Approval:  approvals[rng.Intn(len(approvals))],
	}
}

func artifactDefinition(name string, c model.ArtifactContent) model.ArtifactDefinition {
	return model.ArtifactDefinition{Name: name, Type: typeOf(name), Summary: c.Summary, Body: c.Body, CustomFields: c.CustomFields}
}

// applyLink records an incoming link in next and reports whether the engine
// must reject it. A link is protected by its type at the previous version as
// well as by its current one.
func applyLink(prior, next *refState, def model.TraceLinkDefinition) (rejected bool) {
	key := def.Source + "->" + def.Target
	incoming := def.Content()
	for _, state := range []*refState{prior, next} {
		if current, ok := state.links[key]; ok && !model.CanOverride(current.TraceType, incoming.TraceType) {
			return true
		}
	}
	next.links[key] = incoming
	return false
}

// randomRequest builds a request against state and returns it with the
// state expected afterwards and the number of entities expected to be
// rejected. prior is the state at the previous version.
func randomRequest(rng *rand.Rand, prior, state *refState, versionID string) (model.CommitRequest, *refState, int) {
	next := state.clone()
	req := model.CommitRequest{VersionID: versionID, Mode: model.Incremental}
	rejected := 0

	if rng.Intn(5) == 0 {
		req.Mode = model.CompleteSet
		mentioned := map[string]bool{}
		for _, name := range namePool {
			_, live := state.artifacts[name]
			if (live && rng.Intn(5) != 0) || (!live && rng.Intn(3) == 0) {
				c := randomArtifactContent(rng)
				if live && rng.Intn(2) == 0 {
					c = state.artifacts[name]
				}
				req.Artifacts = append(req.Artifacts, artifactDefinition(name, c))
				next.artifacts[name] = c
				mentioned[name] = true
			}
		}
		for _, name := range state.liveNames() {
			if !mentioned[name] {
				next.removeArtifact(name)
			}
		}
		keep := map[string]bool{}
		keys := make([]string, 0, len(next.links))
		for key := range next.links {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if rng.Intn(5) == 0 {
				continue
			}
			source, target, _ := strings.Cut(key, "->")
			def := randomLinkDefinition(rng, source, target)
			req.TraceLinks = append(req.TraceLinks, def)
			if applyLink(prior, next, def) {
				rejected++
			}
			keep[key] = true
		}
		for _, key := range keys {
			if !keep[key] {
				delete(next.links, key)
			}
		}
		return req, next, rejected
	}

	for _, i := range rng.Perm(len(namePool))[:rng.Intn(4)] {
		name := namePool[i]
		if _, live := state.artifacts[name]; live && rng.Intn(10) < 3 {
			req.Artifacts = append(req.Artifacts, model.ArtifactDefinition{Name: name, Delete: true})
			next.removeArtifact(name)
			continue
		}
		c := randomArtifactContent(rng)
		req.Artifacts = append(req.Artifacts, artifactDefinition(name, c))
		next.artifacts[name] = c
	}

	names := next.liveNames()
	if len(names) < 2 {
		return req, next, rejected
	}
	seen := map[string]bool{}
	for n := rng.Intn(4); n > 0; n-- {
		source := names[rng.Intn(len(names))]
		target := names[rng.Intn(len(names))]
		key := source + "->" + target
		if source == target || seen[key] {
			continue
		}
		seen[key] = true
		if _, live := next.links[key]; live && rng.Intn(10) < 3 {
			req.TraceLinks = append(req.TraceLinks, model.TraceLinkDefinition{Source: source, Target: target, Delete: true})
			delete(next.links, key)
			continue
		}
		def := randomLinkDefinition(rng, source, target)
		req.TraceLinks = append(req.TraceLinks, def)
		if applyLink(prior, next, def) {
			rejected++
		}
	}
	return req, next, rejected
}

func assertMatchesRef(t *testing.T, s *Service, version model.ProjectVersion, want *refState) {
	t.Helper()
	got := snapshotAt(t, s, version.ID)
	if len(got.artifacts) != len(want.artifacts) {
		t.Errorf("%s: %d artifacts, want %d", version.String(), len(got.artifacts), len(want.artifacts))
	}
	for name, c := range want.artifacts {
		a, ok := got.artifacts[name]
		if !ok {
			t.Errorf("%s: artifact %s missing", version.String(), name)
			continue
		}
		if !a.Content().Equal(c) || a.Type != typeOf(name) {
			t.Errorf("%s: artifact %s = %+v, want %+v", version.String(), name, a, c)
		}
	}
	if len(got.links) != len(want.links) {
		t.Errorf("%s: %d links, want %d", version.String(), len(got.links), len(want.links))
	}
	for key, c := range want.links {
		l, ok := got.links[key]
		if !ok {
			t.Errorf("%s: link %s missing", version.String(), key)
			continue
		}
		if !l.Content().Equal(c, 0) {
			t.Errorf("%s: link %s = %+v, want %+v", version.String(), key, l.Content(), c)
		}
	}
}

// applyDelta replays a delta on top of a snapshot.
func applyDelta(base *model.ProjectSnapshot, d *model.ProjectDelta) *model.ProjectSnapshot {
	out := &model.ProjectSnapshot{Artifacts: map[string]model.Artifact{}, TraceLinks: map[string]model.TraceLink{}}
	for id, a := range base.Artifacts {
		out.Artifacts[id] = a
	}
	for id, l := range base.TraceLinks {
		out.TraceLinks[id] = l
	}
	for id := range d.Artifacts.Removed {
		delete(out.Artifacts, id)
	}
	for id, a := range d.Artifacts.Added {
		out.Artifacts[id] = a
	}
	for id, pair := range d.Artifacts.Modified {
		out.Artifacts[id] = pair.After
	}
	for id := range d.TraceLinks.Removed {
		delete(out.TraceLinks, id)
	}
	for id, l := range d.TraceLinks.Added {
		out.TraceLinks[id] = l
	}
	for id, pair := range d.TraceLinks.Modified {
		out.TraceLinks[id] = pair.After
	}
	return out
}

func sameKeys[V any, W any](a map[string]V, b map[string]W) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func TestProperty_RandomHistories(t *testing.T) {
	increments := []model.VersionIncrement{model.IncrementMajor, model.IncrementMinor, model.IncrementRevision}

	for seed := int64(1); seed <= 6; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			s := newTestService(t)
			ctx := context.Background()
			p, err := s.CreateProject(ctx, "prop", "")
			if err != nil {
				t.Fatalf("CreateProject() error = %v", err)
			}

			var versions []model.ProjectVersion
			var expected []*refState
			state := newRefState()

			for i := 0; i < 6; i++ {
				v, err := s.NextVersion(ctx, p.ID, increments[rng.Intn(len(increments))])
				if err != nil {
					t.Fatalf("NextVersion() error = %v", err)
				}
				prior := state
				for c := 1 + rng.Intn(3); c > 0; c-- {
					req, next, rejected := randomRequest(rng, prior, state, v.ID)
					result := mustCommit(t, s, req)
					if len(result.Errors) != rejected {
						t.Fatalf("%s: errors = %+v, want %d rejections", v.String(), result.Errors, rejected)
					}
					for _, e := range result.Errors {
						if e.Code != "POLICY_VIOLATION" {
							t.Fatalf("%s: unexpected error %+v", v.String(), e)
						}
					}
					state = next
					assertMatchesRef(t, s, *v, state)

					// committing the same request again changes nothing
					before, err := s.ResolveProjectAt(ctx, v.ID)
					if err != nil {
						t.Fatalf("ResolveProjectAt() error = %v", err)
					}
					again := mustCommit(t, s, req)
					if len(again.Accepted) != 0 {
						t.Fatalf("%s: re-commit accepted %+v", v.String(), again.Accepted)
					}
					after, err := s.ResolveProjectAt(ctx, v.ID)
					if err != nil {
						t.Fatalf("ResolveProjectAt() error = %v", err)
					}
					if Digest(before) != Digest(after) {
						t.Fatalf("%s: re-commit changed the snapshot", v.String())
					}
				}
				versions = append(versions, *v)
				expected = append(expected, state.clone())
			}

			snapshots := make([]*model.ProjectSnapshot, len(versions))
			for i, v := range versions {
				assertMatchesRef(t, s, v, expected[i])
				mismatches, err := s.VerifyAggregates(ctx, v.ID)
				if err != nil {
					t.Fatalf("VerifyAggregates() error = %v", err)
				}
				if len(mismatches) != 0 {
					t.Errorf("%s: stored matrix differs from recomputation: %+v", v.String(), mismatches)
				}
				if snapshots[i], err = s.ResolveProjectAt(ctx, v.ID); err != nil {
					t.Fatalf("ResolveProjectAt() error = %v", err)
				}
			}

			for i := range versions {
				for j := range versions {
					forward, err := s.Delta(ctx, versions[i].ID, versions[j].ID)
					if err != nil {
						t.Fatalf("Delta() error = %v", err)
					}
					if got := applyDelta(snapshots[i], forward); Digest(got) != Digest(snapshots[j]) {
						t.Errorf("applying delta %s->%s does not reconstruct the target", versions[i].String(), versions[j].String())
					}
					if i == j && (!forward.Artifacts.IsEmpty() || !forward.TraceLinks.IsEmpty()) {
						t.Errorf("self delta at %s is not empty", versions[i].String())
					}

					backward, err := s.Delta(ctx, versions[j].ID, versions[i].ID)
					if err != nil {
						t.Fatalf("Delta() error = %v", err)
					}
					if !sameKeys(forward.Artifacts.Added, backward.Artifacts.Removed) ||
						!sameKeys(forward.Artifacts.Removed, backward.Artifacts.Added) ||
						!sameKeys(forward.Artifacts.Modified, backward.Artifacts.Modified) ||
						!sameKeys(forward.TraceLinks.Added, backward.TraceLinks.Removed) ||
						!sameKeys(forward.TraceLinks.Modified, backward.TraceLinks.Modified) {
						t.Errorf("delta %s<->%s is not symmetric", versions[i].String(), versions[j].String())
					}
					for id, pair := range forward.Artifacts.Modified {
						if back := backward.Artifacts.Modified[id]; !back.Before.Content().Equal(pair.After.Content()) {
							t.Errorf("modified artifact %s does not swap sides", id)
						}
					}
				}
			}
		})
	}
}
