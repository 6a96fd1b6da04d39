package jobs

import (
	"context"

	"rtm/internal/model"
)

// Committer executes commit requests. *versioning.Service satisfies it.
type Committer interface {
	Commit(ctx context.Context, req model.CommitRequest) (*model.CommitResult, error)
}

// CommitterFunc adapts a function to Committer.
type CommitterFunc func(ctx context.Context, req model.CommitRequest) (*model.CommitResult, error)

// Commit calls f.
func (f CommitterFunc) Commit(ctx context.Context, req model.CommitRequest) (*model.CommitResult, error) {
	return f(ctx, req)
}
