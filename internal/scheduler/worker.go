package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/circled/internal/limiter"
	"github.com/kalambet/circled/internal/notify"
	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/relationship"
	"github.com/kalambet/circled/internal/responder"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/storage"
)

const previewLen = 80

// Run drains the queue until ctx is cancelled, waiting the job interval
// after every processed job.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		ran, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("worker iteration failed", "error", err)
		}
		if ran {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.queue.wake:
		}
	}
}

// RunOnce pops and processes the highest-priority job. Returns true if a
// job was processed, regardless of outcome. Failed and rejected jobs are
// dropped.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	job, ok := s.queue.pop()
	if !ok {
		return false, nil
	}

	s.inFlight.Store(true)
	err := s.process(ctx, job)
	s.inFlight.Store(false)

	rec := storage.JobRecord{
		ID:         job.ID,
		Kind:       string(job.Kind),
		Priority:   job.Priority,
		ActorID:    job.ActorID,
		PostID:     job.Payload.PostID,
		Status:     "completed",
		EnqueuedAt: job.EnqueuedAt,
		FinishedAt: s.clock.Now(),
	}
	switch {
	case err == nil:
		s.processed.Add(1)
	case isRejection(err):
		s.rejected.Add(1)
		rec.Status, rec.Reason = "rejected", err.Error()
		s.logger.Info("job rejected", "job_id", job.ID, "actor", job.ActorID, "reason", err)
	default:
		s.failed.Add(1)
		rec.Status, rec.Reason = "failed", err.Error()
		s.logger.Warn("job failed", "job_id", job.ID, "actor", job.ActorID, "error", err)
	}

	if s.jobLog != nil {
		if logErr := s.jobLog.RecordJob(rec); logErr != nil {
			return true, fmt.Errorf("recording job %s: %w", job.ID, logErr)
		}
	}
	return true, nil
}

func isRejection(err error) bool {
	return errors.Is(err, limiter.ErrSelfInteraction) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidJob)
}

func (s *Scheduler) process(ctx context.Context, job Job) error {
	actor, ok := s.actors.Actor(job.ActorID)
	if !ok {
		return fmt.Errorf("%w: unknown actor %q", ErrInvalidJob, job.ActorID)
	}
	switch job.Kind {
	case KindPost:
		return s.processPost(ctx, job, actor)
	case KindInteraction:
		return s.processInteraction(ctx, job, actor)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, job.Kind)
}

func (s *Scheduler) processPost(ctx context.Context, job Job, actor roster.Actor) error {
	res := s.responder.Generate(ctx, responder.Request{
		Kind:          responder.KindPost,
		Actor:         actor,
		Prompt:        job.Payload.Prompt,
		Images:        job.Payload.Images,
		Relationships: s.relationshipsOf(actor),
	})
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrGeneration, res.Error)
	}
	if res.CommentText == "" {
		return fmt.Errorf("%w: empty post", ErrGeneration)
	}

	p := posts.Post{
		ID:           uuid.New().String(),
		AuthorID:     actor.ID,
		AuthorName:   actor.Name,
		AuthorAvatar: actor.Avatar,
		Content:      res.CommentText,
		Images:       job.Payload.Images,
		CreatedAt:    s.clock.Now(),
		Comments:     []posts.Comment{},
		LikedBy:      []posts.Like{},
	}
	if err := s.posts.Upsert(p); err != nil {
		return fmt.Errorf("saving post: %w", err)
	}

	s.logger.Info("post created", "job_id", job.ID, "actor", actor.ID, "post_id", p.ID)
	if job.Priority == PriorityScheduledPost {
		s.notifier.Notify(ctx, actor.Name, actor.ID, preview(p.Content))
	}
	if s.fanout {
		for _, other := range s.actors.Actors() {
			if other.ID == actor.ID {
				continue
			}
			if _, err := s.ScheduleInteraction(other.ID, p.ID, Payload{}); err != nil {
				s.logger.Warn("queueing reaction", "actor", other.ID, "post_id", p.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) processInteraction(ctx context.Context, job Job, actor roster.Actor) error {
	post, err := s.posts.Get(job.Payload.PostID)
	if err != nil {
		if errors.Is(err, posts.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
		return fmt.Errorf("loading post: %w", err)
	}

	var (
		target  *posts.Comment
		kind    = limiter.KindPost
		limitID = post.AuthorID
	)
	if job.Payload.CommentID != "" {
		c, ok := post.FindComment(job.Payload.CommentID)
		if !ok {
			return fmt.Errorf("%w: comment %s not on post %s", ErrInvalidJob, job.Payload.CommentID, post.ID)
		}
		target = &c
		kind = limiter.KindComment
		limitID = c.ID
	}

	commentAuthor := ""
	if target != nil {
		commentAuthor = target.UserID
	}
	if err := limiter.GuardSelfInteraction(actor.ID, post.AuthorID, commentAuthor); err != nil {
		return err
	}
	if !s.actors.CheckInteraction(actor.ID, limitID, kind) {
		return fmt.Errorf("%w: %s on %s %s", ErrRateLimited, actor.ID, kind, limitID)
	}

	res := s.responder.Generate(ctx, responder.Request{
		Kind:          responder.KindInteraction,
		Actor:         actor,
		Prompt:        job.Payload.Prompt,
		Images:        job.Payload.Images,
		Post:          &post,
		Comment:       target,
		Relationships: s.relationshipsOf(actor),
	})
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrGeneration, res.Error)
	}

	now := s.clock.Now()
	liked := res.Like && target == nil
	var reply *posts.Comment
	if res.CommentText != "" {
		c := posts.Comment{
			ID:        uuid.New().String(),
			UserID:    actor.ID,
			UserName:  actor.Name,
			Content:   res.CommentText,
			CreatedAt: now,
			Kind:      posts.CommentCharacter,
		}
		if target != nil {
			c.ReplyTo = &posts.ReplyTo{UserID: target.UserID, UserName: target.UserName}
		}
		reply = &c
	}

	updated := post
	if liked || reply != nil {
		updated, err = s.posts.Update(post.ID, func(p *posts.Post) error {
			if liked {
				liked = p.AddLike(posts.Like{
					UserID:      actor.ID,
					UserName:    actor.Name,
					IsCharacter: true,
					CreatedAt:   now,
					Thoughts:    res.Thoughts,
				})
			}
			if reply != nil {
				p.AddComment(*reply)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("updating post: %w", err)
		}
	}

	if err := s.actors.RecordInteraction(actor.ID, limitID, kind); err != nil {
		s.logger.Warn("persisting limiter state", "actor", actor.ID, "error", err)
	}

	s.applyRelationships(actor, post, target, liked, reply, res)
	s.logger.Info("interaction applied", "job_id", job.ID, "actor", actor.ID, "post_id", post.ID,
		"liked", liked, "commented", reply != nil)

	s.watchers.fire(updated)
	return nil
}

// applyRelationships updates the relationship maps and message boxes
// touched by an accepted interaction. Failures are logged, never returned:
// the post mutation has already been committed.
func (s *Scheduler) applyRelationships(actor roster.Actor, post posts.Post, target *posts.Comment, liked bool, reply *posts.Comment, res responder.Result) {
	ctxContent := preview(post.Content)

	if target == nil && post.AuthorID != actor.ID {
		if liked {
			s.notifyActor(post.AuthorID, actor, relationship.KindLike, "liked your post", post.ID, ctxContent)
			s.bump(post.AuthorID, actor.ID, relationship.DeltaFor(relationship.KindLike), "liked a post")
		}
		if reply != nil {
			s.notifyActor(post.AuthorID, actor, relationship.KindComment, reply.Content, post.ID, ctxContent)
			s.bump(post.AuthorID, actor.ID, relationship.DeltaFor(relationship.KindComment), "commented on a post")
		}
	}
	if target != nil && reply != nil && target.UserID != actor.ID {
		s.notifyActor(target.UserID, actor, relationship.KindReply, reply.Content, target.ID, preview(target.Content))
		s.bump(target.UserID, actor.ID, relationship.DeltaFor(relationship.KindReply), "replied to a comment")
	}

	for _, d := range res.RelationshipDeltas {
		var override *relationship.Type
		if d.NewType != "" {
			// Ladder tiers follow strength; only the non-linear ones are
			// accepted as overrides.
			t, err := relationship.ParseType(d.NewType)
			switch {
			case err != nil:
				s.logger.Debug("ignoring relationship type", "actor", actor.ID, "type", d.NewType)
			case t.Linear():
				s.logger.Debug("ignoring ladder override", "actor", actor.ID, "type", d.NewType)
			default:
				override = &t
			}
		}
		if err := s.actors.UpdateRelationship(actor.ID, d.TargetID, d.StrengthDelta, override, ""); err != nil {
			s.logger.Warn("applying relationship delta", "actor", actor.ID, "target", d.TargetID, "error", err)
		}
	}
}

// bump raises ownerID's relationship toward actorID when ownerID is a
// roster actor; human authors have no relationship state.
func (s *Scheduler) bump(ownerID, actorID string, delta int, note string) {
	if _, ok := s.actors.Actor(ownerID); !ok {
		return
	}
	if err := s.actors.UpdateRelationship(ownerID, actorID, delta, nil, note); err != nil {
		s.logger.Warn("updating relationship", "owner", ownerID, "target", actorID, "error", err)
	}
}

func (s *Scheduler) notifyActor(recipientID string, sender roster.Actor, kind relationship.MessageKind, content, contextID, contextContent string) {
	if _, ok := s.actors.Actor(recipientID); !ok {
		return
	}
	err := s.actors.AppendMessage(recipientID, relationship.Message{
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		Content:        content,
		Timestamp:      s.clock.Now(),
		Kind:           kind,
		ContextID:      contextID,
		ContextContent: contextContent,
	})
	if err != nil {
		s.logger.Warn("appending message", "recipient", recipientID, "error", err)
	}
}

func (s *Scheduler) relationshipsOf(actor roster.Actor) map[string]relationship.Relationship {
	if !actor.RelationshipEnabled {
		return nil
	}
	st, err := s.actors.State(actor.ID)
	if err != nil {
		s.logger.Debug("loading actor state", "actor", actor.ID, "error", err)
		return nil
	}
	return st.Relationships.Relationships
}

func preview(s string) string {
	return notify.Preview(s, previewLen)
}
