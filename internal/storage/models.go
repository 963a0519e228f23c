package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobRecord is the terminal outcome of one scheduler job. Queued jobs are
// never stored; only finished ones are logged for inspection.
type JobRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Priority   int       `json:"priority"`
	ActorID    string    `json:"actorId"`
	PostID     string    `json:"postId,omitempty"`
	Status     string    `json:"status"` // "completed", "failed", "rejected"
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}
