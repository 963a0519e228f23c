// Package scheduler queues actor posts and interactions by priority and
// drains them through a single worker, one responder call at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/circled/internal/limiter"
	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/relationship"
	"github.com/kalambet/circled/internal/responder"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/storage"
)

// DefaultJobInterval is the pause between two completed jobs.
const DefaultJobInterval = 3 * time.Second

// Actors is the roster and per-actor state the worker needs.
// Implemented by roster.Manager.
type Actors interface {
	Actor(id string) (roster.Actor, bool)
	Actors() []roster.Actor
	State(actorID string) (roster.State, error)
	CheckInteraction(actorID, targetID string, kind limiter.Kind) bool
	RecordInteraction(actorID, targetID string, kind limiter.Kind) error
	UpdateRelationship(actorID, targetID string, delta int, override *relationship.Type, note string) error
	AppendMessage(recipientID string, msg relationship.Message) error
}

// PostStore is the subset of posts.Store the worker needs.
type PostStore interface {
	Get(id string) (posts.Post, error)
	Upsert(p posts.Post) error
	Update(id string, fn func(*posts.Post) error) (posts.Post, error)
}

// Notifier receives best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, actorName, actorID, preview string)
}

// JobLog records terminal job outcomes. Implemented by storage.Store.
type JobLog interface {
	RecordJob(r storage.JobRecord) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Deps are the collaborators of a Scheduler. Notifier, JobLog and Clock are
// optional.
type Deps struct {
	Actors    Actors
	Posts     PostStore
	Responder responder.Responder
	Notifier  Notifier
	JobLog    JobLog
	Clock     Clock
	// Fanout queues a priority 0 reaction from every other actor after an
	// actor publishes a post.
	Fanout bool
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string, string) {}

// Scheduler is the process-wide job queue and its worker. Schedule methods
// are safe for concurrent use and never block on job processing; Run must
// be called by exactly one goroutine.
type Scheduler struct {
	queue    *queue
	watchers *watchers

	actors    Actors
	posts     PostStore
	responder responder.Responder
	notifier  Notifier
	jobLog    JobLog
	clock     Clock
	interval  time.Duration
	fanout    bool
	logger    *slog.Logger

	processed atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Bool
}

// New creates a Scheduler. If jobInterval is <= 0, it defaults to 3s.
func New(deps Deps, jobInterval time.Duration) *Scheduler {
	if jobInterval <= 0 {
		jobInterval = DefaultJobInterval
	}
	s := &Scheduler{
		queue:     newQueue(),
		watchers:  newWatchers(),
		actors:    deps.Actors,
		posts:     deps.Posts,
		responder: deps.Responder,
		notifier:  deps.Notifier,
		jobLog:    deps.JobLog,
		clock:     deps.Clock,
		interval:  jobInterval,
		fanout:    deps.Fanout,
		logger:    slog.Default(),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	return s
}

// SchedulePost queues a new post by actorID: priority 2 when scheduled,
// 1 otherwise.
func (s *Scheduler) SchedulePost(actorID string, payload Payload, scheduled bool) (Job, error) {
	prio := PriorityPost
	if scheduled {
		prio = PriorityScheduledPost
	}
	return s.enqueue(KindPost, prio, actorID, payload)
}

// ScheduleInteraction queues an autonomous reaction to postID at priority 0.
func (s *Scheduler) ScheduleInteraction(actorID, postID string, payload Payload) (Job, error) {
	payload.PostID = postID
	return s.enqueue(KindInteraction, PriorityInteraction, actorID, payload)
}

// ScheduleUserDirectedInteraction queues a reaction to human content at
// priority 3, ahead of all autonomous work.
func (s *Scheduler) ScheduleUserDirectedInteraction(actorID, postID string, payload Payload) (Job, error) {
	payload.PostID = postID
	return s.enqueue(KindInteraction, PriorityUserDirected, actorID, payload)
}

func (s *Scheduler) enqueue(kind Kind, prio int, actorID string, payload Payload) (Job, error) {
	if actorID == "" {
		return Job{}, fmt.Errorf("%w: empty actor id", ErrInvalidJob)
	}
	if _, ok := s.actors.Actor(actorID); !ok {
		return Job{}, fmt.Errorf("%w: unknown actor %q", ErrInvalidJob, actorID)
	}
	if kind == KindInteraction && payload.PostID == "" {
		return Job{}, fmt.Errorf("%w: interaction without post id", ErrInvalidJob)
	}

	j := Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Priority:   prio,
		ActorID:    actorID,
		Payload:    payload,
		EnqueuedAt: s.clock.Now(),
	}
	s.queue.push(j)
	s.logger.Debug("job queued", "job_id", j.ID, "kind", kind, "priority", prio, "actor", actorID)
	return j, nil
}

// Watch registers fn to receive postID's updated post after every
// successful interaction on it. The returned cancel func must be called to
// unregister; it is safe to call more than once.
func (s *Scheduler) Watch(postID string, fn func(posts.Post)) (cancel func()) {
	return s.watchers.watch(postID, fn)
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Queued        []int `json:"queued"`
	Processed     int64 `json:"processed"`
	Rejected      int64 `json:"rejected"`
	Failed        int64 `json:"failed"`
	InFlight      bool  `json:"inFlight"`
	WatchedPosts  int   `json:"watchedPosts"`
	Watchers      int   `json:"watchers"`
	IntervalMilli int64 `json:"intervalMs"`
}

// Stats returns queue depths per priority and outcome counters.
func (s *Scheduler) Stats() Stats {
	watched, total := s.watchers.count()
	return Stats{
		Queued:        s.queue.lens(),
		Processed:     s.processed.Load(),
		Rejected:      s.rejected.Load(),
		Failed:        s.failed.Load(),
		InFlight:      s.inFlight.Load(),
		WatchedPosts:  watched,
		Watchers:      total,
		IntervalMilli: s.interval.Milliseconds(),
	}
}
