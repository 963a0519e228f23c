package responder

import (
	"context"

	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/relationship"
	"github.com/kalambet/circled/internal/roster"
)

// Kind selects what the actor is asked to produce.
type Kind string

const (
	// KindPost asks for a new post.
	KindPost Kind = "post"
	// KindInteraction asks for a reaction to Post, or a reply to Comment
	// when set.
	KindInteraction Kind = "interaction"
)

// Request is one generation call on behalf of an actor.
type Request struct {
	Kind          Kind
	Actor         roster.Actor
	Prompt        string
	Images        []string
	Post          *posts.Post
	Comment       *posts.Comment
	Relationships map[string]relationship.Relationship
}

// Delta is a relationship change the actor decided on.
type Delta struct {
	TargetID      string `json:"targetId"`
	StrengthDelta int    `json:"strengthDelta"`
	NewType       string `json:"newType,omitempty"`
}

// Result is the outcome of a generation call. Failures are reported through
// Success and Error, never as a Go error.
type Result struct {
	Success            bool    `json:"success"`
	Like               bool    `json:"like,omitempty"`
	CommentText        string  `json:"commentText,omitempty"`
	Thoughts           string  `json:"thoughts,omitempty"`
	RelationshipDeltas []Delta `json:"relationshipDeltas,omitempty"`
	Error              string  `json:"error,omitempty"`
}

// Responder generates actor content.
type Responder interface {
	Generate(ctx context.Context, req Request) Result
}

// Failed returns an unsuccessful Result carrying msg.
func Failed(msg string) Result {
	return Result{Error: msg}
}
