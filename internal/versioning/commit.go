package versioning

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/matrix"
	"rtm/internal/metrics"
	"rtm/internal/model"
	"rtm/internal/storage"
)

// errAbsent is returned by reconcile for a delete of an entity that is
// absent at the target version and was absent before it.
var errAbsent = errors.New("entity is absent")

// Engine applies commit requests. Each commit runs in one transaction while
// holding its project's lock.
type Engine struct {
	*stores
	matrix  *matrix.Maintainer
	locks   *ProjectLocks
	metrics *metrics.Collectors
	logger  *slog.Logger
}

func newEngine(st *stores, maintainer *matrix.Maintainer, locks *ProjectLocks, collectors *metrics.Collectors, logger *slog.Logger) *Engine {
	return &Engine{
		stores:  st,
		matrix:  maintainer,
		locks:   locks,
		metrics: collectors,
		logger:  logger,
	}
}

// Commit applies req to its target version. Rejected entities are reported
// in the result and the rest are committed, unless req.AllOrNothing is set,
// in which case any rejection rolls the whole commit back and the returned
// error is COMMIT_REJECTED alongside the result describing the rejections.
// Unknown versions and storage failures abort with no effect.
func (e *Engine) Commit(ctx context.Context, req model.CommitRequest) (_ *model.CommitResult, err error) {
	ctx, span := startCommitSpan(ctx, req)
	start := time.Now()
	var result *model.CommitResult
	defer func() {
		setCommitSpanResult(span, result)
		endSpan(span, err)
		e.metrics.ObserveCommit(result, err, time.Since(start))
	}()

	mode, err := model.ParseCommitMode(string(req.Mode))
	if err != nil {
		return nil, rtmerrors.Wrap(rtmerrors.InvalidArgument, "invalid commit mode", err)
	}
	req.Mode = mode
	if strings.TrimSpace(req.VersionID) == "" {
		return nil, rtmerrors.New(rtmerrors.InvalidArgument, "commit request has no version")
	}

	version, err := e.versions.FindByID(ctx, e.db.Conn(), req.VersionID)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, rtmerrors.Newf(rtmerrors.VersionNotFound, "version %s not found", req.VersionID)
	}

	unlock := e.locks.Lock(version.ProjectID)
	defer unlock()

	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		run, err := e.newRun(ctx, tx, req, *version)
		if err != nil {
			return err
		}
		if err := run.execute(ctx); err != nil {
			return err
		}
		result = run.result
		if req.AllOrNothing && result.HasErrors() {
			return rtmerrors.Newf(rtmerrors.CommitRejected,
				"%d incoming entities were rejected; nothing was committed", len(result.Errors)).
				WithDetails(result.Errors)
		}
		return nil
	})
	if err != nil {
		if rtmerrors.Is(err, rtmerrors.CommitRejected) {
			result.Accepted = nil
			return result, err
		}
		result = nil
		if storage.IsBusyError(err) {
			return nil, rtmerrors.Wrap(rtmerrors.StorageError, "database is busy", err)
		}
		return nil, err
	}

	e.logger.Info("Committed",
		"version", version.String(),
		"mode", string(req.Mode),
		"accepted", len(result.Accepted),
		"errors", len(result.Errors),
		"duration", time.Since(start),
	)
	return result, nil
}

// commitRun is the state of one commit inside its transaction.
type commitRun struct {
	*Engine
	q        storage.Querier
	req      model.CommitRequest
	version  model.ProjectVersion
	rank     int64
	previous *model.ProjectVersion
	result   *model.CommitResult

	// entities present at the target version before this commit
	liveArtifacts map[string]model.ArtifactVersion
	liveLinks     map[string]model.TraceLinkVersion

	bases map[string]*model.ArtifactBase
}

func (e *Engine) newRun(ctx context.Context, q storage.Querier, req model.CommitRequest, version model.ProjectVersion) (*commitRun, error) {
	previous, err := e.versions.Previous(ctx, q, version.ProjectID, version.Rank())
	if err != nil {
		return nil, err
	}
	r := &commitRun{
		Engine:   e,
		q:        q,
		req:      req,
		version:  version,
		rank:     version.Rank(),
		previous: previous,
		result:   &model.CommitResult{VersionID: version.ID, Accepted: []model.AcceptedEntity{}, Errors: []model.CommitError{}},
		bases:    make(map[string]*model.ArtifactBase),
	}
	if req.Mode == model.CompleteSet {
		if r.liveArtifacts, err = e.artifacts.ResolveRows(ctx, q, version); err != nil {
			return nil, err
		}
		if r.liveLinks, err = e.links.ResolveRows(ctx, q, version); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *commitRun) execute(ctx context.Context) error {
	seenArtifacts := make(map[string]bool)
	for i, def := range r.req.Artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := model.ArtifactKey(def.Name)
		if key != "" && seenArtifacts[key] {
			dup := rtmerrors.Newf(rtmerrors.DuplicateEntity, "artifact %q appears more than once", def.Name)
			if err := r.collect(model.KindArtifact, i, def.Name, dup); err != nil {
				return err
			}
			continue
		}
		seenArtifacts[key] = true
		if err := r.commitArtifact(ctx, def); err != nil {
			if err := r.collect(model.KindArtifact, i, def.Name, err); err != nil {
				return err
			}
		}
	}
	if r.req.Mode == model.CompleteSet {
		if err := r.removeUnmentionedArtifacts(ctx, seenArtifacts); err != nil {
			return err
		}
	}

	seenLinks := make(map[string]bool)
	for i, def := range r.req.TraceLinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		display := linkDisplayKey(def.Source, def.Target)
		key := linkNameKey(def.Source, def.Target)
		if seenLinks[key] {
			dup := rtmerrors.Newf(rtmerrors.DuplicateEntity, "trace link %s appears more than once", display)
			if err := r.collect(model.KindTraceLink, i, display, dup); err != nil {
				return err
			}
			continue
		}
		seenLinks[key] = true
		if err := r.commitTraceLink(ctx, def); err != nil {
			if err := r.collect(model.KindTraceLink, i, display, err); err != nil {
				return err
			}
		}
	}
	if r.req.Mode == model.CompleteSet {
		if err := r.removeUnmentionedLinks(ctx, seenLinks); err != nil {
			return err
		}
	}
	return nil
}

// collect records a per-entity rejection. Errors that are not per-entity
// abort the commit and are returned.
func (r *commitRun) collect(kind model.EntityKind, index int, key string, err error) error {
	code := rtmerrors.CodeOf(err)
	if rtmerrors.IsFatal(code) {
		return err
	}
	message := err.Error()
	var re *rtmerrors.RtmError
	if errors.As(err, &re) {
		message = re.Message
	}
	r.result.Errors = append(r.result.Errors, model.CommitError{
		Index:   index,
		Kind:    kind,
		Key:     key,
		Code:    string(code),
		Message: message,
	})
	r.logger.Debug("Rejected entity",
		"kind", string(kind),
		"key", key,
		"code", string(code),
		"reason", message,
	)
	return nil
}

func (r *commitRun) accept(kind model.EntityKind, key, baseID string, row *model.VersionEntity[model.ArtifactContent], linkRow *model.VersionEntity[model.TraceLinkContent], retracted, implicit bool) {
	a := model.AcceptedEntity{Kind: kind, Key: key, BaseID: baseID, Implicit: implicit, Retracted: retracted}
	switch {
	case row != nil:
		a.VersionEntityID, a.Modification = row.ID, row.Kind
	case linkRow != nil:
		a.VersionEntityID, a.Modification = linkRow.ID, linkRow.Kind
	default:
		return
	}
	r.result.Accepted = append(r.result.Accepted, a)
	r.logger.Debug("Classified entity",
		"kind", string(kind),
		"key", key,
		"modification", string(a.Modification),
		"retracted", retracted,
		"implicit", implicit,
	)
}

func (r *commitRun) artifactBase(ctx context.Context, id string) (*model.ArtifactBase, error) {
	if b, ok := r.bases[id]; ok {
		return b, nil
	}
	b, err := r.artifactRegistry.FindByID(ctx, r.q, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, rtmerrors.Newf(rtmerrors.InternalError, "artifact %s vanished", id)
	}
	r.bases[id] = b
	return b, nil
}

func (r *commitRun) conflict(what string) error {
	return rtmerrors.Newf(rtmerrors.HistoryConflict,
		"%s has changes recorded after version %s", what, r.version.String())
}

func (r *commitRun) commitArtifact(ctx context.Context, def model.ArtifactDefinition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return rtmerrors.New(rtmerrors.InvalidKey, "artifact name is empty")
	}
	if !def.Delete {
		if err := storage.ValidateArtifactKey(name, def.Type); err != nil {
			return err
		}
	}

	generations, err := r.artifactRegistry.FindGenerations(ctx, r.q, r.version.ProjectID, name)
	if err != nil {
		return err
	}
	ids := make([]string, len(generations))
	for i, g := range generations {
		ids[i] = g.ID
	}
	s, err := locate(ctx, r, r.artifactLog, ids)
	if err != nil {
		if rtmerrors.Is(err, rtmerrors.HistoryConflict) {
			return r.conflict("artifact " + quote(name))
		}
		return err
	}

	var base *model.ArtifactBase
	switch {
	case s.baseID != "":
		base, err = r.artifactBase(ctx, s.baseID)
		if err != nil {
			return err
		}
		if !def.Delete && !strings.EqualFold(base.Type, strings.TrimSpace(def.Type)) {
			return rtmerrors.Newf(rtmerrors.ReferenceError,
				"artifact %q has type %q; an artifact's type cannot change", name, base.Type)
		}
	case def.Delete:
		return rtmerrors.Newf(rtmerrors.ReferenceError,
			"artifact %q does not exist at version %s", name, r.version.String())
	default:
		base, err = r.artifactRegistry.Mint(ctx, r.q, r.version.ProjectID, name, def.Type)
		if err != nil {
			return err
		}
		r.bases[base.ID] = base
	}

	var incoming *model.ArtifactContent
	if !def.Delete {
		c := def.Content()
		incoming = &c
	}
	return r.applyArtifact(ctx, base, s, incoming, false)
}

// applyArtifact reconciles one artifact and, when it leaves the project at
// this version, removes every live trace link touching it.
func (r *commitRun) applyArtifact(ctx context.Context, base *model.ArtifactBase, s slot[model.ArtifactContent], incoming *model.ArtifactContent, implicit bool) error {
	var cascade []model.TraceLinkBase
	if incoming == nil {
		links, err := r.linkRegistry.FindTouching(ctx, r.q, base.ID)
		if err != nil {
			return err
		}
		for _, l := range links {
			live, err := r.links.ResolveEntity(ctx, r.q, r.version, l.ID)
			if err != nil {
				return err
			}
			if live == nil {
				continue
			}
			later, err := r.linkLog.HasRowAfter(ctx, r.q, l.ID, r.rank)
			if err != nil {
				return err
			}
			if later {
				return r.conflict("a trace link of artifact " + quote(base.Name))
			}
			cascade = append(cascade, l)
		}
	}

	ch, err := reconcile(ctx, r.q, r.artifactLog, r.artifactKind.Equal, r.version, base.ID, s, incoming)
	if errors.Is(err, errAbsent) {
		return rtmerrors.Newf(rtmerrors.ReferenceError,
			"artifact %q does not exist at version %s", base.Name, r.version.String())
	}
	if err != nil {
		return err
	}
	r.accept(model.KindArtifact, base.Name, base.ID, ch.row, nil, ch.retracted, implicit)

	if ch.after == nil && ch.current != nil {
		for _, l := range cascade {
			if err := r.removeLink(ctx, l, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// artifactAt finds the generation of name that is present at the target
// version. With anyGeneration set, the newest generation is returned when
// none is present.
func (r *commitRun) artifactAt(ctx context.Context, name string, anyGeneration bool) (*model.ArtifactBase, error) {
	generations, err := r.artifactRegistry.FindGenerations(ctx, r.q, r.version.ProjectID, name)
	if err != nil {
		return nil, err
	}
	for i := len(generations) - 1; i >= 0; i-- {
		live, err := r.artifacts.ResolveEntity(ctx, r.q, r.version, generations[i].ID)
		if err != nil {
			return nil, err
		}
		if live != nil {
			g := generations[i]
			r.bases[g.ID] = &g
			return &g, nil
		}
	}
	if anyGeneration && len(generations) > 0 {
		g := generations[len(generations)-1]
		return &g, nil
	}
	return nil, nil
}

func (r *commitRun) commitTraceLink(ctx context.Context, def model.TraceLinkDefinition) error {
	sourceName, targetName := strings.TrimSpace(def.Source), strings.TrimSpace(def.Target)
	if sourceName == "" || targetName == "" {
		return rtmerrors.New(rtmerrors.InvalidKey, "trace link needs a source and a target artifact")
	}

	var incoming *model.TraceLinkContent
	if !def.Delete {
		traceType, err := model.ParseTraceType(string(def.TraceType))
		if err != nil {
			return rtmerrors.Wrap(rtmerrors.InvalidKey, "invalid trace type", err)
		}
		approval, err := model.ParseApprovalStatus(string(def.Approval))
		if err != nil {
			return rtmerrors.Wrap(rtmerrors.InvalidKey, "invalid approval status", err)
		}
		if math.IsNaN(def.Score) || math.IsInf(def.Score, 0) {
			return rtmerrors.New(rtmerrors.InvalidKey, "trace link score must be a finite number")
		}
		def.TraceType, def.Approval = traceType, approval
		c := def.Content()
		incoming = &c
	}

	source, err := r.artifactAt(ctx, sourceName, def.Delete)
	if err != nil {
		return err
	}
	if source == nil {
		return rtmerrors.Newf(rtmerrors.ReferenceError,
			"source artifact %q does not exist at version %s", sourceName, r.version.String())
	}
	target, err := r.artifactAt(ctx, targetName, def.Delete)
	if err != nil {
		return err
	}
	if target == nil {
		return rtmerrors.Newf(rtmerrors.ReferenceError,
			"target artifact %q does not exist at version %s", targetName, r.version.String())
	}

	generations, err := r.linkRegistry.FindGenerations(ctx, r.q, r.version.ProjectID, source.ID, target.ID)
	if err != nil {
		return err
	}
	ids := make([]string, len(generations))
	for i, g := range generations {
		ids[i] = g.ID
	}
	display := linkDisplayKey(source.Name, target.Name)
	s, err := locate(ctx, r, r.linkLog, ids)
	if err != nil {
		if rtmerrors.Is(err, rtmerrors.HistoryConflict) {
			return r.conflict("trace link " + display)
		}
		return err
	}

	var base *model.TraceLinkBase
	switch {
	case s.baseID != "":
		for i := range generations {
			if generations[i].ID == s.baseID {
				base = &generations[i]
			}
		}
	case def.Delete:
		return rtmerrors.Newf(rtmerrors.ReferenceError,
			"trace link %s does not exist at version %s", display, r.version.String())
	default:
		base, err = r.linkRegistry.Mint(ctx, r.q, r.version.ProjectID, source.ID, target.ID)
		if err != nil {
			return err
		}
	}

	// A link that was manual at the previous version stays protected even
	// when it was deleted earlier at this version.
	if incoming != nil {
		for _, prior := range []*model.TraceLinkContent{s.previousContent(), s.current()} {
			if prior != nil && !model.CanOverride(prior.TraceType, incoming.TraceType) {
				return rtmerrors.Newf(rtmerrors.PolicyViolation,
					"trace link %s is %s; a %s link cannot replace it", display, prior.TraceType, incoming.TraceType)
			}
		}
	}

	return r.applyLink(ctx, *base, source, target, s, incoming, false)
}

func (r *commitRun) applyLink(ctx context.Context, base model.TraceLinkBase, source, target *model.ArtifactBase, s slot[model.TraceLinkContent], incoming *model.TraceLinkContent, implicit bool) error {
	display := linkDisplayKey(source.Name, target.Name)
	ch, err := reconcile(ctx, r.q, r.linkLog, r.linkKind.Equal, r.version, base.ID, s, incoming)
	if errors.Is(err, errAbsent) {
		return rtmerrors.Newf(rtmerrors.ReferenceError,
			"trace link %s does not exist at version %s", display, r.version.String())
	}
	if err != nil {
		return err
	}
	pair := model.TypePair{SourceType: source.Type, TargetType: target.Type}
	if err := r.matrix.Apply(ctx, r.q, r.version, pair, ch.current, ch.after); err != nil {
		return err
	}
	r.accept(model.KindTraceLink, display, base.ID, nil, ch.row, ch.retracted, implicit)
	return nil
}

// removeLink removes a live link the request did not name.
func (r *commitRun) removeLink(ctx context.Context, l model.TraceLinkBase, implicit bool) error {
	source, err := r.artifactBase(ctx, l.SourceID)
	if err != nil {
		return err
	}
	target, err := r.artifactBase(ctx, l.TargetID)
	if err != nil {
		return err
	}
	s, err := at(ctx, r, r.linkLog, l.ID)
	if err != nil {
		return err
	}
	err = r.applyLink(ctx, l, source, target, s, nil, implicit)
	if rtmerrors.Is(err, rtmerrors.ReferenceError) {
		// already gone
		return nil
	}
	return err
}

func (r *commitRun) removeUnmentionedArtifacts(ctx context.Context, mentioned map[string]bool) error {
	for _, id := range sortedKeys(r.liveArtifacts) {
		base, err := r.artifactBase(ctx, id)
		if err != nil {
			return err
		}
		if mentioned[model.ArtifactKey(base.Name)] {
			continue
		}
		err = r.removeArtifact(ctx, base)
		if err != nil {
			if err := r.collect(model.KindArtifact, -1, base.Name, err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *commitRun) removeArtifact(ctx context.Context, base *model.ArtifactBase) error {
	later, err := r.artifactLog.HasRowAfter(ctx, r.q, base.ID, r.rank)
	if err != nil {
		return err
	}
	if later {
		return r.conflict("artifact " + quote(base.Name))
	}
	s, err := at(ctx, r, r.artifactLog, base.ID)
	if err != nil {
		return err
	}
	if s.current() == nil {
		return nil
	}
	return r.applyArtifact(ctx, base, s, nil, true)
}

func (r *commitRun) removeUnmentionedLinks(ctx context.Context, mentioned map[string]bool) error {
	for _, id := range sortedKeys(r.liveLinks) {
		l, err := r.linkRegistry.FindByID(ctx, r.q, id)
		if err != nil {
			return err
		}
		source, err := r.artifactBase(ctx, l.SourceID)
		if err != nil {
			return err
		}
		target, err := r.artifactBase(ctx, l.TargetID)
		if err != nil {
			return err
		}
		if mentioned[linkNameKey(source.Name, target.Name)] {
			continue
		}
		later, err := r.linkLog.HasRowAfter(ctx, r.q, id, r.rank)
		if err != nil {
			return err
		}
		if later {
			if err := r.collect(model.KindTraceLink, -1, linkDisplayKey(source.Name, target.Name),
				r.conflict("trace link "+linkDisplayKey(source.Name, target.Name))); err != nil {
				return err
			}
			continue
		}
		if err := r.removeLink(ctx, *l, true); err != nil {
			return err
		}
	}
	return nil
}

// slot is where an incoming definition lands: the base entity it applies to
// (empty when a new generation has to be minted), the entity's state at the
// previous version, and the row already written at the target version.
type slot[C any] struct {
	baseID   string
	previous *model.VersionEntity[C]
	rowAtV   *model.VersionEntity[C]
}

// current is the entity's state at the target version before this change.
func (s slot[C]) current() *C {
	if s.rowAtV != nil {
		if s.rowAtV.Kind == model.Removed {
			return nil
		}
		c := s.rowAtV.Content
		return &c
	}
	if s.previous != nil {
		c := s.previous.Content
		return &c
	}
	return nil
}

func (s slot[C]) previousContent() *C {
	if s.previous == nil {
		return nil
	}
	c := s.previous.Content
	return &c
}

// at loads the slot of a known base entity.
func at[C any](ctx context.Context, r *commitRun, log *storage.VersionLog[C], baseID string) (slot[C], error) {
	s := slot[C]{baseID: baseID}
	if r.previous != nil {
		row, err := log.LatestAtOrBefore(ctx, r.q, baseID, r.previous.Rank())
		if err != nil {
			return s, err
		}
		if row != nil && row.Kind != model.Removed {
			s.previous = row
		}
	}
	row, err := log.FindByBaseAndVersion(ctx, r.q, baseID, r.version.ID)
	if err != nil {
		return s, err
	}
	s.rowAtV = row
	return s, nil
}

// locate picks the generation a definition applies to among the
// generations of its natural key, oldest first. The newest generation is
// used while it is present before the target version, has a row at the
// target version, or has no rows at all; otherwise it has been removed and
// an addition needs a fresh generation. Any generation with rows after the
// target version is a history conflict.
func locate[C any](ctx context.Context, r *commitRun, log *storage.VersionLog[C], generations []string) (slot[C], error) {
	for _, id := range generations {
		later, err := log.HasRowAfter(ctx, r.q, id, r.rank)
		if err != nil {
			return slot[C]{}, err
		}
		if later {
			return slot[C]{}, rtmerrors.New(rtmerrors.HistoryConflict, "changes recorded after the target version")
		}
	}
	if len(generations) == 0 {
		return slot[C]{}, nil
	}

	latest := generations[len(generations)-1]
	s, err := at(ctx, r, log, latest)
	if err != nil {
		return s, err
	}
	if s.previous != nil || s.rowAtV != nil {
		return s, nil
	}
	anyRow, err := log.LatestAtOrBefore(ctx, r.q, latest, r.rank)
	if err != nil {
		return s, err
	}
	if anyRow == nil {
		return s, nil
	}
	return slot[C]{}, nil
}

// change is the outcome of reconciling one entity at the target version.
type change[C any] struct {
	current   *C
	after     *C
	row       *model.VersionEntity[C]
	retracted bool
}

// reconcile makes the entity's row at the target version equal to the
// classification of its previous state against incoming (nil for a delete):
// appending, revising or retracting that row as needed. Rows of other
// versions are never touched.
func reconcile[C any](ctx context.Context, q storage.Querier, log *storage.VersionLog[C], equal func(a, b C) bool, version model.ProjectVersion, baseID string, s slot[C], incoming *C) (change[C], error) {
	ch := change[C]{current: s.current(), after: incoming}

	var prev *C
	if s.previous != nil {
		prev = &s.previous.Content
	}
	if incoming == nil && ch.current == nil {
		if prev != nil {
			// already removed at this version
			return ch, nil
		}
		return ch, errAbsent
	}

	same := prev != nil && incoming != nil && equal(*prev, *incoming)
	kind, write, _ := model.Classify(prev != nil, incoming != nil, same)
	if !write {
		if s.rowAtV == nil {
			return ch, nil
		}
		if err := log.Retract(ctx, q, s.rowAtV.ID); err != nil {
			return ch, err
		}
		ch.row, ch.retracted = s.rowAtV, true
		return ch, nil
	}

	var content C
	if incoming != nil {
		content = *incoming
	} else {
		content = *prev
	}
	if s.rowAtV != nil && s.rowAtV.Kind == kind && equal(s.rowAtV.Content, content) {
		return ch, nil
	}

	row := &model.VersionEntity[C]{
		BaseID:      baseID,
		ProjectID:   version.ProjectID,
		VersionID:   version.ID,
		VersionRank: version.Rank(),
		Kind:        kind,
		Content:     content,
	}
	var err error
	if s.rowAtV != nil {
		err = log.Revise(ctx, q, row)
	} else {
		err = log.Append(ctx, q, row)
	}
	if err != nil {
		return ch, err
	}
	ch.row = row
	return ch, nil
}

func linkDisplayKey(source, target string) string {
	return strings.TrimSpace(source) + "->" + strings.TrimSpace(target)
}

func linkNameKey(source, target string) string {
	return model.TraceLinkKey(model.ArtifactKey(source), model.ArtifactKey(target))
}

func quote(s string) string {
	return `"` + s + `"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
