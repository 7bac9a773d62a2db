package recorder

import (
	"time"

	"TradeSentinel/internal/model"
)

// NoopRecorder is used when no database is configured. Positions then live only in memory.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) SavePosition(_ model.Position) error                    { return nil }
func (n *NoopRecorder) DeletePosition(_ string) error                          { return nil }
func (n *NoopRecorder) LoadPositions() ([]model.Position, error)               { return nil, nil }
func (n *NoopRecorder) SaveWatchlist(_ []model.WatchItem) error                { return nil }
func (n *NoopRecorder) LoadWatchlist() ([]model.WatchItem, error)              { return nil, nil }
func (n *NoopRecorder) RecordExecution(_ model.Execution) error                { return nil }
func (n *NoopRecorder) ExecutionsSince(_ time.Time) ([]model.Execution, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                           { return nil }
