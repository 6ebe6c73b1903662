package history

import (
	"context"
	"time"

	"github.com/hupe1980/chatkernel/core"
)

// Entry is one executed request.
type Entry struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	ExecutionCount int               `json:"execution_count"`
	Input          string            `json:"input"`
	Output         string            `json:"output"`
	Status         core.ResultStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Store persists history entries. List returns the newest limit entries of
// a session (all sessions when sessionID is empty, no limit when limit <= 0)
// in chronological order.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}

// normalize fills the id and timestamp of a new entry.
func normalize(e Entry) Entry {
	if e.ID == "" {
		e.ID = core.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e
}
