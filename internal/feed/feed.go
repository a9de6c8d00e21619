// Package feed supplies the ordered module event stream the sequencer
// replays. Sources page events by cursor and report the best known block
// height for maturation checks.
package feed

import (
	"context"

	"swapsequencer/internal/model"
)

// Source is one provider of the module event stream.
type Source interface {
	// Events returns up to limit events with cursor >= fromCursor, in
	// cursor order. An empty slice means the tip is reached.
	Events(ctx context.Context, fromCursor int64, limit int) ([]*model.OpEvent, error)
	// BestHeight reports the current best block height.
	BestHeight(ctx context.Context) (uint64, error)
}
