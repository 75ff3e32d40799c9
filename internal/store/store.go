package store

import (
	"context"

	"github.com/seantiz/porter/internal/model"
)

// Store defines the persistence operations for gateway launch and backup
// sync history. Records are insert-only: each row describes one resolved
// attempt.
type Store interface {
	RecordLaunch(ctx context.Context, rec *model.LaunchRecord) error
	ListLaunches(ctx context.Context, limit int) ([]*model.LaunchRecord, error)
	RecordSyncRun(ctx context.Context, run *model.SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*model.SyncRun, error)
	Close() error
}
