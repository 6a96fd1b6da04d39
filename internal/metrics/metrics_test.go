package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

func TestObserveCommit_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		result  *model.CommitResult
		err     error
		outcome string
	}{
		{"clean", &model.CommitResult{}, nil, OutcomeCommitted},
		{"partial", &model.CommitResult{Errors: []model.CommitError{{Code: "REFERENCE_ERROR"}}}, nil, OutcomePartial},
		{"rejected", &model.CommitResult{}, rtmerrors.New(rtmerrors.CommitRejected, "rolled back"), OutcomeRejected},
		{"failed", nil, errors.New("disk full"), OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(prometheus.NewRegistry())
			c.ObserveCommit(tt.result, tt.err, 10*time.Millisecond)
			if got := testutil.ToFloat64(c.commitsTotal.WithLabelValues(tt.outcome)); got != 1 {
				t.Errorf("commits{outcome=%s} = %v, want 1", tt.outcome, got)
			}
		})
	}
}

func TestObserveCommit_Entities(t *testing.T) {
	c := New(prometheus.NewRegistry())
	result := &model.CommitResult{
		Accepted: []model.AcceptedEntity{
			{Kind: model.KindArtifact, Modification: model.Added},
			{Kind: model.KindArtifact, Modification: model.Added},
			{Kind: model.KindTraceLink, Modification: model.Removed, Implicit: true},
			{Kind: model.KindArtifact, Modification: model.Modified, Retracted: true},
		},
		Errors: []model.CommitError{{Code: "POLICY_VIOLATION"}},
	}
	c.ObserveCommit(result, nil, time.Millisecond)

	if got := testutil.ToFloat64(c.entitiesTotal.WithLabelValues("artifact", "ADDED")); got != 2 {
		t.Errorf("artifact ADDED = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.entitiesTotal.WithLabelValues("trace_link", "REMOVED")); got != 1 {
		t.Errorf("trace_link REMOVED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.entitiesTotal.WithLabelValues("artifact", "RETRACTED")); got != 1 {
		t.Errorf("artifact RETRACTED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.entityErrors.WithLabelValues("POLICY_VIOLATION")); got != 1 {
		t.Errorf("POLICY_VIOLATION errors = %v, want 1", got)
	}
}

func TestNilCollectors(t *testing.T) {
	var c *Collectors
	// None of these may panic
	c.ObserveCommit(&model.CommitResult{}, nil, time.Second)
	c.ObserveDelta(time.Second)
	c.ObserveResolve(model.KindArtifact, time.Second)
	c.JobFinished("completed")
	c.SetQueueDepth(3)
}

func TestHandler(t *testing.T) {
	reg, c := NewRegistry()
	c.SetQueueDepth(4)
	c.JobFinished("completed")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"rtm_commit_job_queue_depth 4",
		`rtm_commit_jobs_total{status="completed"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
