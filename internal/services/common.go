package services

import (
	"context"
	"errors"

	"github.com/craftlane/api/internal/repositories"
)

// conflictRetryAttempts bounds optimistic-concurrency retries per operation.
const conflictRetryAttempts = 3

// retryOnConflict re-runs fn when the repository reports a precondition
// conflict, re-reading state each attempt. Any other error stops immediately.
func retryOnConflict(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isRepoConflict(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func valuePtr[T any](v T) *T {
	return &v
}
