package scheduler

import (
	"errors"
	"time"
)

// Job priorities, highest drained first.
const (
	PriorityInteraction   = 0
	PriorityPost          = 1
	PriorityScheduledPost = 2
	PriorityUserDirected  = 3

	numPriorities = 4
)

var (
	// ErrInvalidJob is returned for jobs that cannot be processed: unknown
	// actor, missing post reference and the like.
	ErrInvalidJob = errors.New("invalid job")
	// ErrRateLimited marks a job dropped by the interaction limiter.
	ErrRateLimited = errors.New("interaction limit reached")
	// ErrGeneration marks a job dropped because the responder failed.
	ErrGeneration = errors.New("generation failed")
)

// Kind distinguishes post creation from reactions to existing posts.
type Kind string

const (
	KindPost        Kind = "post"
	KindInteraction Kind = "interaction"
)

// Payload carries the job's target and generation hints.
type Payload struct {
	PostID    string   `json:"postId,omitempty"`
	CommentID string   `json:"commentId,omitempty"`
	Images    []string `json:"images,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
}

// Job is one queued unit of work. Jobs live only in memory.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Priority   int       `json:"priority"`
	ActorID    string    `json:"actorId"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
