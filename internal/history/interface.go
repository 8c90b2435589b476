// Package history keeps a local log of completed uploads so operators can
// see what was published, when, and to how many groups. Only terminal
// results are stored; in-flight sessions are never persisted.
package history

import (
	"context"

	"github.com/brewtune/brewtune/internal/intune"
)

// Repository stores and lists upload results.
type Repository interface {
	// Insert records one completed upload.
	Insert(ctx context.Context, res *intune.UploadResult) error

	// List returns the most recent results, newest first, up to limit.
	List(ctx context.Context, limit int) ([]intune.UploadResult, error)
}
