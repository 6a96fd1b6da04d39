package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"rtm/internal/model"
	"rtm/internal/slogutil"
	"rtm/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "rtm.db"), slogutil.NewDiscardLogger(), storage.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(newTestDB(t), slogutil.NewDiscardLogger())
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := NewJob("p1", testRequest())
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() returned nil")
	}
	if got.Status != JobQueued || got.ProjectID != "p1" || got.VersionID != "v1" {
		t.Errorf("stored job = %+v", got)
	}
	if len(got.Request.Artifacts) != 1 || got.Request.Artifacts[0].Name != "REQ-1" {
		t.Errorf("Request not round-tripped: %+v", got.Request)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}

	missing, err := store.GetJob(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetJob(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestStore_Claim(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := NewJob("p1", testRequest())
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	first := *job
	second := *job
	ok, err := store.Claim(ctx, &first)
	if err != nil || !ok {
		t.Fatalf("first Claim() = %v, %v; want true", ok, err)
	}
	ok, err = store.Claim(ctx, &second)
	if err != nil || ok {
		t.Fatalf("second Claim() = %v, %v; want false", ok, err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != JobRunning || got.Attempts != 1 || got.StartedAt == nil {
		t.Errorf("claimed job = status %v attempts %d started %v", got.Status, got.Attempts, got.StartedAt)
	}
}

func TestStore_UpdateKeepsResult(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := NewJob("p1", testRequest())
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job.MarkStarted()
	job.MarkCompleted(&model.CommitResult{
		VersionID: "v1",
		Accepted:  []model.AcceptedEntity{{Kind: model.KindArtifact, Key: "REQ-1", Modification: model.Added}},
	})
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != JobCompleted || got.CompletedAt == nil {
		t.Errorf("Status = %v, CompletedAt = %v", got.Status, got.CompletedAt)
	}
	if got.Result == nil || len(got.Result.Accepted) != 1 || got.Result.Accepted[0].Modification != model.Added {
		t.Errorf("Result = %+v", got.Result)
	}

	if err := store.UpdateJob(ctx, &Job{ID: "nope", Status: JobFailed}); err == nil {
		t.Error("UpdateJob() of a missing job should fail")
	}
}

func TestStore_RequeueOrphaned(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	job := NewJob("p1", testRequest())
	_ = store.CreateJob(ctx, job)
	if ok, err := store.Claim(ctx, job); !ok || err != nil {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	n, err := store.RequeueOrphaned(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RequeueOrphaned() = %d, %v; want 1", n, err)
	}
	pending, err := store.GetPendingJobs(ctx)
	if err != nil {
		t.Fatalf("GetPendingJobs() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID || pending[0].StartedAt != nil {
		t.Errorf("pending = %+v", pending)
	}
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var ids []string
	for i, project := range []string{"p1", "p1", "p2"} {
		job := NewJob(project, testRequest())
		job.CreatedAt = job.CreatedAt.Add(time.Duration(i) * time.Millisecond)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		ids = append(ids, job.ID)
	}
	done, _ := store.GetJob(ctx, ids[0])
	done.MarkCompleted(&model.CommitResult{})
	_ = store.UpdateJob(ctx, done)

	tests := []struct {
		name      string
		opts      ListJobsOptions
		wantTotal int
		wantFirst string
	}{
		{"all newest first", ListJobsOptions{}, 3, ids[2]},
		{"by project", ListJobsOptions{ProjectID: "p1"}, 2, ids[1]},
		{"by status", ListJobsOptions{Status: []JobStatus{JobCompleted}}, 1, ids[0]},
		{"queued in p1", ListJobsOptions{ProjectID: "p1", Status: []JobStatus{JobQueued}}, 1, ids[1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := store.ListJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListJobs() error = %v", err)
			}
			if resp.TotalCount != tt.wantTotal || len(resp.Jobs) != tt.wantTotal {
				t.Fatalf("TotalCount = %d, len = %d; want %d", resp.TotalCount, len(resp.Jobs), tt.wantTotal)
			}
			if resp.Jobs[0].ID != tt.wantFirst {
				t.Errorf("first job = %s, want %s", resp.Jobs[0].ID, tt.wantFirst)
			}
		})
	}

	n, err := store.CountByStatus(ctx, JobQueued)
	if err != nil || n != 2 {
		t.Errorf("CountByStatus(queued) = %d, %v; want 2", n, err)
	}
}

func TestStore_CleanupOldJobs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := NewJob("p1", testRequest())
	_ = store.CreateJob(ctx, old)
	old.MarkCompleted(&model.CommitResult{})
	past := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &past
	_ = store.UpdateJob(ctx, old)

	fresh := NewJob("p1", testRequest())
	_ = store.CreateJob(ctx, fresh)
	fresh.MarkCompleted(&model.CommitResult{})
	_ = store.UpdateJob(ctx, fresh)

	queued := NewJob("p1", testRequest())
	_ = store.CreateJob(ctx, queued)

	n, err := store.CleanupOldJobs(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("CleanupOldJobs() = %d, %v; want 1", n, err)
	}
	if got, _ := store.GetJob(ctx, old.ID); got != nil {
		t.Error("old job should be removed")
	}
	for _, id := range []string{fresh.ID, queued.ID} {
		if got, _ := store.GetJob(ctx, id); got == nil {
			t.Errorf("job %s should be kept", id)
		}
	}
}

func TestStore_CancelQueued(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	queued := NewJob("p1", testRequest())
	_ = store.CreateJob(ctx, queued)
	running := NewJob("p1", testRequest())
	_ = store.CreateJob(ctx, running)
	if ok, err := store.Claim(ctx, running); !ok || err != nil {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	tests := []struct {
		id         string
		wantOK     bool
		wantStatus JobStatus
	}{
		{queued.ID, true, JobCancelled},
		{running.ID, false, JobRunning},
	}
	for _, tt := range tests {
		ok, err := store.CancelQueued(ctx, tt.id)
		if err != nil || ok != tt.wantOK {
			t.Errorf("CancelQueued(%s) = %v, %v; want %v", tt.id, ok, err, tt.wantOK)
		}
		got, _ := store.GetJob(ctx, tt.id)
		if got.Status != tt.wantStatus {
			t.Errorf("job %s Status = %v, want %v", tt.id, got.Status, tt.wantStatus)
		}
	}

	job, err := store.Wait(ctx, queued.ID, time.Millisecond)
	if err != nil || job.Status != JobCancelled || job.CompletedAt == nil {
		t.Errorf("Wait() = %+v, %v", job, err)
	}
}
