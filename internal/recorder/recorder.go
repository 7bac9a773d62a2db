// Package recorder persists positions, the watch list and the execution journal.
package recorder

import (
	"time"

	"TradeSentinel/internal/model"
)

// Store keeps key->document records keyed by stock code. Saves replace the whole document.
type Store interface {
	SavePosition(p model.Position) error
	DeletePosition(code string) error
	LoadPositions() ([]model.Position, error)

	// SaveWatchlist replaces the whole watch list.
	SaveWatchlist(items []model.WatchItem) error
	LoadWatchlist() ([]model.WatchItem, error)

	RecordExecution(e model.Execution) error
	ExecutionsSince(t time.Time) ([]model.Execution, error)

	Close() error
}
