// Package storage defines the persistence sink the builder writes to and
// a JSONL implementation for file-based runs. The postgres subpackage
// provides the production implementation.
package storage

import (
	"context"

	"swapsequencer/internal/ledger"
	"swapsequencer/internal/model"
)

// Sink receives balance deltas and periodic snapshots.
type Sink interface {
	SaveChanges(ctx context.Context, cursor int64, changes []ledger.ChangeRecord) error
	SaveSnapshot(ctx context.Context, cursor int64, data *model.SnapshotData) error
}
