package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
	"rtm/internal/slogutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	opts := DefaultOptions()
	opts.CompressBodiesOver = 64
	db, err := Open(filepath.Join(t.TempDir(), "rtm.db"), slogutil.NewDiscardLogger(), opts)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db
}

func createProject(t *testing.T, db *DB, name string) *model.Project {
	t.Helper()
	p := &model.Project{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	if err := NewProjectRepository(db).Create(context.Background(), db.Conn(), p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func createVersion(t *testing.T, db *DB, projectID string, major, minor, revision int) model.ProjectVersion {
	t.Helper()
	v := model.ProjectVersion{
		ID: uuid.NewString(), ProjectID: projectID,
		Major: major, Minor: minor, Revision: revision,
		CreatedAt: time.Now(),
	}
	if err := NewVersionRepository(db).Create(context.Background(), db.Conn(), &v); err != nil {
		t.Fatalf("create version %s: %v", v.String(), err)
	}
	return v
}

func TestDatabaseInitialization(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "rtm.db")
	logger := slogutil.NewDiscardLogger()

	db, err := Open(path, logger, DefaultOptions())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	version, err := db.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening an up-to-date database is a no-op
	db, err = Open(path, logger, DefaultOptions())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()
	version, _ = db.SchemaVersion(context.Background())
	if version != currentSchemaVersion {
		t.Errorf("schema version after reopen = %d", version)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewProjectRepository(db)

	sentinel := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		p := &model.Project{ID: uuid.NewString(), Name: "rolled-back", CreatedAt: time.Now()}
		if err := repo.Create(ctx, tx, p); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx() error = %v, want sentinel", err)
	}
	p, err := repo.FindByName(ctx, db.Conn(), "rolled-back")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Error("project should not exist after rollback")
	}
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewProjectRepository(db)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = db.WithTx(ctx, func(tx *sql.Tx) error {
			p := &model.Project{ID: uuid.NewString(), Name: "panicked", CreatedAt: time.Now()}
			if err := repo.Create(ctx, tx, p); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	p, _ := repo.FindByName(ctx, db.Conn(), "panicked")
	if p != nil {
		t.Error("project should not exist after panic rollback")
	}
}

func TestWithReadTx_StableSnapshot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewProjectRepository(db)

	err := db.WithReadTx(ctx, func(tx *sql.Tx) error {
		before, err := repo.FindByName(ctx, tx, "late")
		if err != nil {
			return err
		}
		if before != nil {
			t.Error("project exists before it was created")
		}

		createProject(t, db, "late")

		after, err := repo.FindByName(ctx, tx, "late")
		if err != nil {
			return err
		}
		if after != nil {
			t.Error("read transaction observed a commit made after it started")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithReadTx() error = %v", err)
	}

	p, err := repo.FindByName(ctx, db.Conn(), "late")
	if err != nil || p == nil {
		t.Errorf("FindByName() after read transaction = %v, %v; want the project", p, err)
	}
}

func TestIsConstraintError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := createProject(t, db, "proj")
	v := createVersion(t, db, p.ID, 1, 0, 0)

	_, err := db.Conn().ExecContext(ctx, `
		INSERT INTO trace_matrix_entries (version_id, project_id, version_rank, source_type, target_type, total)
		VALUES (?, ?, ?, 'a', 'b', -1)
	`, v.ID, p.ID, v.Rank())
	if !IsConstraintError(err) {
		t.Errorf("IsConstraintError(check violation %v) = false", err)
	}
	if IsUniqueError(err) {
		t.Errorf("IsUniqueError(check violation) = true")
	}

	dup := &model.Project{ID: uuid.NewString(), Name: "proj", CreatedAt: time.Now()}
	err = NewProjectRepository(db).Create(ctx, db.Conn(), dup)
	if !rtmerrors.Is(err, rtmerrors.ProjectExists) {
		t.Errorf("duplicate project error = %v, want PROJECT_EXISTS", err)
	}
	if IsConstraintError(errors.New("plain")) {
		t.Error("IsConstraintError(plain error) = true")
	}
}

func TestProjectRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewProjectRepository(db)

	p := createProject(t, db, "Avionics")

	dup := &model.Project{ID: uuid.NewString(), Name: "  avionics ", CreatedAt: time.Now()}
	if err := repo.Create(ctx, db.Conn(), dup); !rtmerrors.Is(err, rtmerrors.ProjectExists) {
		t.Errorf("duplicate create error = %v, want PROJECT_EXISTS", err)
	}

	got, err := repo.FindByName(ctx, db.Conn(), "AVIONICS")
	if err != nil || got == nil {
		t.Fatalf("FindByName() = %v, %v", got, err)
	}
	if got.ID != p.ID || got.Name != "Avionics" {
		t.Errorf("FindByName() = %+v", got)
	}

	missing, err := repo.FindByID(ctx, db.Conn(), "nope")
	if err != nil || missing != nil {
		t.Errorf("FindByID(missing) = %v, %v; want nil, nil", missing, err)
	}

	createProject(t, db, "Braking")
	all, err := repo.List(ctx, db.Conn())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Avionics" || all[1].Name != "Braking" {
		t.Errorf("List() = %+v", all)
	}
}

func TestVersionRepository(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewVersionRepository(db)
	p := createProject(t, db, "proj")

	v1 := createVersion(t, db, p.ID, 1, 0, 0)
	v2 := createVersion(t, db, p.ID, 1, 2, 0)
	v3 := createVersion(t, db, p.ID, 2, 0, 0)
	// Created out of order; ordering is by triple
	v11 := createVersion(t, db, p.ID, 1, 1, 5)

	dup := model.ProjectVersion{ID: uuid.NewString(), ProjectID: p.ID, Major: 1, Minor: 2, CreatedAt: time.Now()}
	if err := repo.Create(ctx, db.Conn(), &dup); !rtmerrors.Is(err, rtmerrors.VersionExists) {
		t.Errorf("duplicate version error = %v, want VERSION_EXISTS", err)
	}

	bad := model.ProjectVersion{ID: uuid.NewString(), ProjectID: p.ID, Major: -1, CreatedAt: time.Now()}
	if err := repo.Create(ctx, db.Conn(), &bad); !rtmerrors.Is(err, rtmerrors.InvalidArgument) {
		t.Errorf("negative version error = %v, want INVALID_ARGUMENT", err)
	}

	list, err := repo.List(ctx, db.Conn(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{v1.ID, v11.ID, v2.ID, v3.ID}
	if len(list) != len(wantOrder) {
		t.Fatalf("List() returned %d versions", len(list))
	}
	for i, id := range wantOrder {
		if list[i].ID != id {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].String(), id)
		}
	}

	latest, err := repo.Latest(ctx, db.Conn(), p.ID)
	if err != nil || latest == nil || latest.ID != v3.ID {
		t.Errorf("Latest() = %v, %v", latest, err)
	}

	prev, err := repo.Previous(ctx, db.Conn(), p.ID, v2.Rank())
	if err != nil || prev == nil || prev.ID != v11.ID {
		t.Errorf("Previous(1.2.0) = %v, %v; want 1.1.5", prev, err)
	}
	first, err := repo.Previous(ctx, db.Conn(), p.ID, v1.Rank())
	if err != nil || first != nil {
		t.Errorf("Previous(first) = %v, %v; want nil", first, err)
	}

	later, err := repo.Later(ctx, db.Conn(), p.ID, v11.Rank())
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 2 || later[0].ID != v2.ID || later[1].ID != v3.ID {
		t.Errorf("Later(1.1.5) = %+v", later)
	}

	byRef, err := repo.ParseVersionRef(ctx, db.Conn(), p.ID, "1.2")
	if err != nil || byRef == nil || byRef.ID != v2.ID {
		t.Errorf("ParseVersionRef(1.2) = %v, %v", byRef, err)
	}
	byID, err := repo.ParseVersionRef(ctx, db.Conn(), p.ID, v3.ID)
	if err != nil || byID == nil || byID.ID != v3.ID {
		t.Errorf("ParseVersionRef(id) = %v, %v", byID, err)
	}
	byLatest, err := repo.ParseVersionRef(ctx, db.Conn(), p.ID, "Latest")
	if err != nil || byLatest == nil || byLatest.ID != v3.ID {
		t.Errorf("ParseVersionRef(latest) = %v, %v", byLatest, err)
	}

	other := createProject(t, db, "other")
	if _, err := repo.ParseVersionRef(ctx, db.Conn(), other.ID, v3.ID); !rtmerrors.Is(err, rtmerrors.VersionOrdering) {
		t.Errorf("ParseVersionRef(foreign id) error = %v, want VERSION_ORDERING", err)
	}
}

func TestArtifactRegistry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := NewArtifactRegistry(db)
	p := createProject(t, db, "proj")

	a, err := reg.FindOrCreate(ctx, db.Conn(), p.ID, "REQ-1", "requirement")
	if err != nil {
		t.Fatal(err)
	}
	if a.Generation != 0 {
		t.Errorf("Generation = %d, want 0", a.Generation)
	}

	again, err := reg.FindOrCreate(ctx, db.Conn(), p.ID, " req-1 ", "requirement")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != a.ID {
		t.Errorf("FindOrCreate should return the same identity, got %s and %s", a.ID, again.ID)
	}

	minted, err := reg.Mint(ctx, db.Conn(), p.ID, "REQ-1", "requirement")
	if err != nil {
		t.Fatal(err)
	}
	if minted.ID == a.ID || minted.Generation != 1 {
		t.Errorf("Mint() = %+v, want new id with generation 1", minted)
	}

	gens, err := reg.FindGenerations(ctx, db.Conn(), p.ID, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gens) != 2 || gens[0].ID != a.ID || gens[1].ID != minted.ID {
		t.Errorf("FindGenerations() = %+v", gens)
	}

	latest, _ := reg.FindLatest(ctx, db.Conn(), p.ID, "Req-1")
	if latest == nil || latest.ID != minted.ID {
		t.Errorf("FindLatest() = %+v", latest)
	}

	all, err := reg.FindAllInProject(ctx, db.Conn(), p.ID)
	if err != nil || len(all) != 2 {
		t.Errorf("FindAllInProject() = %d entries, %v", len(all), err)
	}

	tests := []struct {
		name, artifactName, artifactType string
	}{
		{"empty name", "  ", "requirement"},
		{"empty type", "REQ-2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.FindOrCreate(ctx, db.Conn(), p.ID, tt.artifactName, tt.artifactType)
			if !rtmerrors.Is(err, rtmerrors.InvalidKey) {
				t.Errorf("error = %v, want INVALID_KEY", err)
			}
		})
	}
}

func TestTraceLinkRegistry(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	artifacts := NewArtifactRegistry(db)
	links := NewTraceLinkRegistry(db)
	p := createProject(t, db, "proj")

	a, _ := artifacts.FindOrCreate(ctx, db.Conn(), p.ID, "A", "requirement")
	b, _ := artifacts.FindOrCreate(ctx, db.Conn(), p.ID, "B", "code")

	ab, err := links.FindOrCreate(ctx, db.Conn(), p.ID, a.ID, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := links.FindOrCreate(ctx, db.Conn(), p.ID, b.ID, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ab.ID == ba.ID {
		t.Error("A->B and B->A must be distinct links")
	}

	same, _ := links.FindOrCreate(ctx, db.Conn(), p.ID, a.ID, b.ID)
	if same.ID != ab.ID {
		t.Error("FindOrCreate should be stable for the same pair")
	}

	next, err := links.Mint(ctx, db.Conn(), p.ID, a.ID, b.ID)
	if err != nil || next.Generation != 1 {
		t.Errorf("Mint() = %+v, %v", next, err)
	}

	touching, err := links.FindTouching(ctx, db.Conn(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(touching) != 3 {
		t.Errorf("FindTouching() = %d links, want 3", len(touching))
	}

	if _, err := links.FindOrCreate(ctx, db.Conn(), p.ID, "", b.ID); !rtmerrors.Is(err, rtmerrors.InvalidKey) {
		t.Errorf("empty endpoint error = %v", err)
	}
}

func TestArtifactLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	reg := NewArtifactRegistry(db)
	log := NewArtifactLog(db)
	p := createProject(t, db, "proj")
	v1 := createVersion(t, db, p.ID, 1, 0, 0)
	v2 := createVersion(t, db, p.ID, 2, 0, 0)
	v3 := createVersion(t, db, p.ID, 3, 0, 0)

	a, _ := reg.FindOrCreate(ctx, db.Conn(), p.ID, "A", "requirement")
	b, _ := reg.FindOrCreate(ctx, db.Conn(), p.ID, "B", "requirement")

	longBody := strings.Repeat("the system shall ", 40)
	row := &model.ArtifactVersion{
		BaseID: a.ID, ProjectID: p.ID, VersionID: v1.ID, VersionRank: v1.Rank(),
		Kind:    model.Added,
		Content: model.ArtifactContent{Summary: "s1", Body: longBody, CustomFields: map[string]string{"prio": "high"}},
	}
	if err := log.Append(ctx, db.Conn(), row); err != nil {
		t.Fatal(err)
	}
	if row.ID == "" {
		t.Error("Append should assign an id")
	}

	dupRow := &model.ArtifactVersion{BaseID: a.ID, ProjectID: p.ID, VersionID: v1.ID, VersionRank: v1.Rank(), Kind: model.Added}
	if err := log.Append(ctx, db.Conn(), dupRow); !rtmerrors.Is(err, rtmerrors.DuplicateEntity) {
		t.Errorf("duplicate append error = %v, want DUPLICATE_ENTITY", err)
	}

	var encoding string
	if err := db.Conn().QueryRow(`SELECT body_encoding FROM artifact_versions WHERE id = ?`, row.ID).Scan(&encoding); err != nil {
		t.Fatal(err)
	}
	if encoding != EncodingZstd {
		t.Errorf("long body encoding = %q, want zstd", encoding)
	}

	got, err := log.FindByBaseAndVersion(ctx, db.Conn(), a.ID, v1.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByBaseAndVersion() = %v, %v", got, err)
	}
	if !got.Content.Equal(row.Content) || got.Kind != model.Added || got.VersionRank != v1.Rank() {
		t.Errorf("round trip mismatch: %+v", got)
	}

	mustAppend := func(base string, v model.ProjectVersion, kind model.ModificationKind, summary string) {
		t.Helper()
		e := &model.ArtifactVersion{
			BaseID: base, ProjectID: p.ID, VersionID: v.ID, VersionRank: v.Rank(),
			Kind: kind, Content: model.ArtifactContent{Summary: summary},
		}
		if err := log.Append(ctx, db.Conn(), e); err != nil {
			t.Fatal(err)
		}
	}
	mustAppend(a.ID, v3, model.Modified, "s3")
	mustAppend(b.ID, v2, model.Added, "b2")
	mustAppend(b.ID, v3, model.Removed, "b2")

	at2, err := log.LatestAtOrBefore(ctx, db.Conn(), a.ID, v2.Rank())
	if err != nil || at2 == nil || at2.VersionID != v1.ID {
		t.Errorf("LatestAtOrBefore(a, v2) = %+v, %v; want v1 row", at2, err)
	}
	none, err := log.LatestAtOrBefore(ctx, db.Conn(), b.ID, v1.Rank())
	if err != nil || none != nil {
		t.Errorf("LatestAtOrBefore(b, v1) = %+v, %v; want nil", none, err)
	}

	snapshot, err := log.LatestForProjectAtOrBefore(ctx, db.Conn(), p.ID, v2.Rank())
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("LatestForProjectAtOrBefore(v2) = %d rows, want 2", len(snapshot))
	}
	for _, e := range snapshot {
		switch e.BaseID {
		case a.ID:
			if e.VersionID != v1.ID {
				t.Errorf("a resolved to %s, want v1", e.VersionID)
			}
		case b.ID:
			if e.VersionID != v2.ID {
				t.Errorf("b resolved to %s, want v2", e.VersionID)
			}
		}
	}

	after, err := log.HasRowAfter(ctx, db.Conn(), a.ID, v1.Rank())
	if err != nil || !after {
		t.Errorf("HasRowAfter(a, v1) = %v, %v; want true", after, err)
	}
	after, _ = log.HasRowAfter(ctx, db.Conn(), a.ID, v3.Rank())
	if after {
		t.Error("HasRowAfter(a, v3) should be false")
	}

	history, err := log.FindAllForBase(ctx, db.Conn(), b.ID)
	if err != nil || len(history) != 2 || history[0].Kind != model.Added || history[1].Kind != model.Removed {
		t.Errorf("FindAllForBase(b) = %+v, %v", history, err)
	}

	revised := &model.ArtifactVersion{
		BaseID: a.ID, ProjectID: p.ID, VersionID: v3.ID, VersionRank: v3.Rank(),
		Kind: model.Modified, Content: model.ArtifactContent{Summary: "s3-revised"},
	}
	if err := log.Revise(ctx, db.Conn(), revised); err != nil {
		t.Fatal(err)
	}
	got, _ = log.FindByBaseAndVersion(ctx, db.Conn(), a.ID, v3.ID)
	if got == nil || got.Content.Summary != "s3-revised" {
		t.Errorf("after Revise: %+v", got)
	}

	if err := log.Retract(ctx, db.Conn(), got.ID); err != nil {
		t.Fatal(err)
	}
	n, err := log.CountForVersion(ctx, db.Conn(), v3.ID)
	if err != nil || n != 1 {
		t.Errorf("CountForVersion(v3) = %d, %v; want 1", n, err)
	}
	if err := log.Retract(ctx, db.Conn(), got.ID); err == nil {
		t.Error("retracting a missing row should fail")
	}

	rows, err := log.FindAllForVersion(ctx, db.Conn(), v3.ID)
	if err != nil || len(rows) != 1 || rows[0].BaseID != b.ID {
		t.Errorf("FindAllForVersion(v3) = %+v, %v", rows, err)
	}
}

func TestTraceLinkLog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	artifacts := NewArtifactRegistry(db)
	links := NewTraceLinkRegistry(db)
	log := NewTraceLinkLog(db)
	p := createProject(t, db, "proj")
	v1 := createVersion(t, db, p.ID, 1, 0, 0)

	a, _ := artifacts.FindOrCreate(ctx, db.Conn(), p.ID, "A", "requirement")
	b, _ := artifacts.FindOrCreate(ctx, db.Conn(), p.ID, "B", "code")
	l, _ := links.FindOrCreate(ctx, db.Conn(), p.ID, a.ID, b.ID)

	row := &model.TraceLinkVersion{
		BaseID: l.ID, ProjectID: p.ID, VersionID: v1.ID, VersionRank: v1.Rank(), Kind: model.Added,
		Content: model.TraceLinkContent{Score: 0.87, TraceType: model.TraceGenerated, Approval: model.Unreviewed, Explanation: "shared terms"},
	}
	if err := log.Append(ctx, db.Conn(), row); err != nil {
		t.Fatal(err)
	}
	got, err := log.FindByBaseAndVersion(ctx, db.Conn(), l.ID, v1.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByBaseAndVersion() = %v, %v", got, err)
	}
	if !got.Content.Equal(row.Content, 0) {
		t.Errorf("content = %+v, want %+v", got.Content, row.Content)
	}
}

func TestMatrixStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewMatrixStore(db)
	p := createProject(t, db, "proj")
	v1 := createVersion(t, db, p.ID, 1, 0, 0)
	v2 := createVersion(t, db, p.ID, 2, 0, 0)
	v3 := createVersion(t, db, p.ID, 3, 0, 0)
	pair := model.TypePair{SourceType: "requirement", TargetType: "code"}

	if err := store.AdjustFrom(ctx, db.Conn(), p.ID, v2.Rank(), pair, model.MatrixCounts{Total: 2, Generated: 1, Approved: 1}); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		v    model.ProjectVersion
		want int64
	}{{v1, 0}, {v2, 2}, {v3, 2}} {
		got, err := store.Get(ctx, db.Conn(), tc.v.ID, pair)
		if err != nil {
			t.Fatal(err)
		}
		if got.Total != tc.want {
			t.Errorf("Total at %s = %d, want %d", tc.v.String(), got.Total, tc.want)
		}
	}

	// Decrementing an existing cell keeps the rest of the range intact
	if err := store.AdjustFrom(ctx, db.Conn(), p.ID, v3.Rank(), pair, model.MatrixCounts{Total: -1}); err != nil {
		t.Fatalf("decrement of a positive cell: %v", err)
	}
	if got, _ := store.Get(ctx, db.Conn(), v3.ID, pair); got.Total != 1 {
		t.Errorf("Total at v3 after decrement = %d, want 1", got.Total)
	}
	if err := store.AdjustFrom(ctx, db.Conn(), p.ID, v3.Rank(), pair, model.MatrixCounts{Total: 1}); err != nil {
		t.Fatal(err)
	}

	// Counters never go negative
	err := store.AdjustFrom(ctx, db.Conn(), p.ID, v1.Rank(), pair, model.MatrixCounts{Total: -1})
	if !rtmerrors.Is(err, rtmerrors.StorageError) {
		t.Errorf("negative adjustment error = %v, want STORAGE_ERROR", err)
	}
	if err == nil || !strings.Contains(err.Error(), "would become negative") {
		t.Errorf("negative adjustment error = %v, want the negative counter message", err)
	}
	if entries, _ := store.ListForVersion(ctx, db.Conn(), v1.ID); len(entries) != 0 {
		t.Errorf("failed adjustment left cells at v1: %+v", entries)
	}
	if got, _ := store.Get(ctx, db.Conn(), v2.ID, pair); got.Total != 2 {
		t.Errorf("failed adjustment changed v2: Total = %d, want 2", got.Total)
	}

	// Dropping to zero prunes the cell
	if err := store.AdjustFrom(ctx, db.Conn(), p.ID, v3.Rank(), pair, model.MatrixCounts{Total: -2, Generated: -1, Approved: -1}); err != nil {
		t.Fatal(err)
	}
	entries, err := store.ListForVersion(ctx, db.Conn(), v3.ID)
	if err != nil || len(entries) != 0 {
		t.Errorf("ListForVersion(v3) = %+v, %v; want empty", entries, err)
	}

	v4 := createVersion(t, db, p.ID, 4, 0, 0)
	if err := store.CopyFrom(ctx, db.Conn(), v2.ID, v4); err != nil {
		t.Fatal(err)
	}
	copied, _ := store.Get(ctx, db.Conn(), v4.ID, pair)
	if copied != (model.MatrixCounts{Total: 2, Generated: 1, Approved: 1}) {
		t.Errorf("copied counts = %+v", copied)
	}

	replacement := []model.MatrixEntry{
		{TypePair: model.TypePair{SourceType: "design", TargetType: "code"}, MatrixCounts: model.MatrixCounts{Total: 5}},
		{TypePair: pair},
	}
	if err := store.ReplaceForVersion(ctx, db.Conn(), v4, replacement); err != nil {
		t.Fatal(err)
	}
	entries, _ = store.ListForVersion(ctx, db.Conn(), v4.ID)
	if len(entries) != 1 || entries[0].SourceType != "design" || entries[0].Total != 5 {
		t.Errorf("after ReplaceForVersion: %+v", entries)
	}
}

func TestBodyCodec(t *testing.T) {
	codec, err := NewBodyCodec(16)
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	tests := []struct {
		name         string
		body         string
		wantEncoding string
	}{
		{"empty", "", EncodingPlain},
		{"short", "tiny", EncodingPlain},
		{"long", strings.Repeat("abcdef", 100), EncodingZstd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, encoding, err := codec.Encode(tt.body)
			if err != nil {
				t.Fatal(err)
			}
			if encoding != tt.wantEncoding {
				t.Errorf("encoding = %q, want %q", encoding, tt.wantEncoding)
			}
			out, err := codec.Decode(data, encoding)
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.body {
				t.Errorf("Decode() changed the body")
			}
		})
	}

	if _, err := codec.Decode([]byte("x"), "lz4"); err == nil {
		t.Error("unknown encoding should fail")
	}

	disabled, _ := NewBodyCodec(0)
	if _, encoding, _ := disabled.Encode(strings.Repeat("x", 1000)); encoding != EncodingPlain {
		t.Errorf("disabled codec encoding = %q", encoding)
	}
}

func TestContentHash(t *testing.T) {
	a := model.ArtifactContent{Summary: "s", Body: "b", CustomFields: map[string]string{"x": "1", "y": "2"}}
	b := model.ArtifactContent{Summary: "s", Body: "b", CustomFields: map[string]string{"y": "2", "x": "1"}}
	if ContentHash(a) != ContentHash(b) {
		t.Error("hash must not depend on map order")
	}
	// Field boundaries are part of the hash
	c := model.ArtifactContent{Summary: "sb", Body: ""}
	d := model.ArtifactContent{Summary: "s", Body: "b"}
	if ContentHash(c) == ContentHash(d) {
		t.Error("hash must separate fields")
	}
	if len(ContentHash(a)) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(ContentHash(a)))
	}
}
