package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/storage"
)

const (
	// DefaultTickInterval is how often the trigger compares the clock with
	// registered times.
	DefaultTickInterval = time.Minute
	// minCheckGap drops checks that arrive too soon after the last one.
	minCheckGap = 55 * time.Second
	// tolerance is how far the clock may be from a registered time and
	// still match.
	tolerance = 1 // minutes

	dateLayout = "2006-01-02"
)

// KV is the durable key/value storage the Registry needs.
// Implemented by storage.Store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// ActorLookup resolves roster actors.
type ActorLookup interface {
	Actor(id string) (roster.Actor, bool)
}

// Registry stores each actor's scheduled post times and the date each time
// last fired. Times default to the actor's roster entry until set.
type Registry struct {
	kv     KV
	actors ActorLookup
	mu     sync.Mutex
}

// NewRegistry creates a Registry over kv.
func NewRegistry(kv KV, actors ActorLookup) *Registry {
	return &Registry{kv: kv, actors: actors}
}

func timesKey(actorID string) string       { return "schedule:times:" + actorID }
func firedKey(actorID, hhmm string) string { return "schedule:fired:" + actorID + ":" + hhmm }

// Times returns actorID's scheduled "HH:MM" times, sorted.
func (r *Registry) Times(actorID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timesLocked(actorID)
}

func (r *Registry) timesLocked(actorID string) ([]string, error) {
	raw, ok, err := r.kv.Get(timesKey(actorID))
	if err != nil {
		return nil, fmt.Errorf("loading schedule for %s: %w", actorID, err)
	}
	if !ok {
		a, found := r.actors.Actor(actorID)
		if !found {
			return nil, fmt.Errorf("%s: %w", actorID, roster.ErrUnknownActor)
		}
		out := append([]string(nil), a.ScheduledTimes...)
		sort.Strings(out)
		return out, nil
	}
	var times []string
	if err := json.Unmarshal([]byte(raw), &times); err != nil {
		return nil, fmt.Errorf("decoding schedule for %s: %w", actorID, err)
	}
	return times, nil
}

// SetTimes replaces actorID's scheduled times. Each entry must be "HH:MM";
// duplicates are collapsed.
func (r *Registry) SetTimes(actorID string, times []string) ([]string, error) {
	if _, ok := r.actors.Actor(actorID); !ok {
		return nil, fmt.Errorf("%s: %w", actorID, roster.ErrUnknownActor)
	}

	seen := make(map[string]struct{}, len(times))
	norm := make([]string, 0, len(times))
	for _, t := range times {
		n, err := roster.NormalizeTime(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		norm = append(norm, n)
	}
	sort.Strings(norm)

	data, err := json.Marshal(norm)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Set(timesKey(actorID), string(data)); err != nil {
		return nil, fmt.Errorf("saving schedule for %s: %w", actorID, err)
	}
	return norm, nil
}

// ResetTimes drops actorID's stored times so the roster defaults apply
// again, and returns them.
func (r *Registry) ResetTimes(actorID string) ([]string, error) {
	if _, ok := r.actors.Actor(actorID); !ok {
		return nil, fmt.Errorf("%s: %w", actorID, roster.ErrUnknownActor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Delete(timesKey(actorID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("resetting schedule for %s: %w", actorID, err)
	}
	return r.timesLocked(actorID)
}

// LastFired returns the date (YYYY-MM-DD) actorID's time hhmm last fired.
func (r *Registry) LastFired(actorID, hhmm string) (string, bool, error) {
	return r.kv.Get(firedKey(actorID, hhmm))
}

func (r *Registry) markFired(actorID, hhmm, date string) error {
	return r.kv.Set(firedKey(actorID, hhmm), date)
}

// Trigger enqueues scheduled posts when an actor's registered time comes
// round, at most once per actor, time and calendar date.
type Trigger struct {
	sched    *Scheduler
	registry *Registry
	clock    Clock
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	lastCheck time.Time
}

// NewTrigger creates a Trigger. If interval is <= 0, it defaults to 1m.
func NewTrigger(sched *Scheduler, registry *Registry, interval time.Duration) *Trigger {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Trigger{
		sched:    sched,
		registry: registry,
		clock:    sched.clock,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run checks on every tick until ctx is cancelled.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.Check(ctx, t.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check(ctx, t.clock.Now())
		}
	}
}

// Check fires every registered time within one minute of now that has not
// fired today, and returns how many fired. A check less than 55s after the
// previous accepted one is ignored. The fired date is written before the
// post is queued, so a restart cannot fire the same time twice in a day.
func (t *Trigger) Check(ctx context.Context, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastCheck.IsZero() && now.Sub(t.lastCheck) < minCheckGap {
		return 0
	}
	t.lastCheck = now

	today := now.Format(dateLayout)
	nowMin := now.Hour()*60 + now.Minute()
	fired := 0

	for _, actor := range t.sched.actors.Actors() {
		times, err := t.registry.Times(actor.ID)
		if err != nil {
			t.logger.Warn("loading schedule", "actor", actor.ID, "error", err)
			continue
		}
		for _, hhmm := range times {
			at, err := time.Parse("15:04", hhmm)
			if err != nil {
				continue
			}
			// Minute-of-day distance; 23:59 and 00:00 are 1439 apart, not 1.
			diff := nowMin - (at.Hour()*60 + at.Minute())
			if diff < -tolerance || diff > tolerance {
				continue
			}

			last, ok, err := t.registry.LastFired(actor.ID, hhmm)
			if err != nil {
				t.logger.Warn("reading fired marker", "actor", actor.ID, "time", hhmm, "error", err)
				continue
			}
			if ok && last == today {
				continue
			}
			if err := t.registry.markFired(actor.ID, hhmm, today); err != nil {
				t.logger.Error("writing fired marker", "actor", actor.ID, "time", hhmm, "error", err)
				continue
			}

			if _, err := t.sched.SchedulePost(actor.ID, Payload{}, true); err != nil {
				t.logger.Warn("queueing scheduled post", "actor", actor.ID, "time", hhmm, "error", err)
				continue
			}
			t.sched.notifier.Notify(ctx, actor.Name, actor.ID, fmt.Sprintf("%s is writing a post (scheduled %s)", actor.Name, hhmm))
			t.logger.Info("scheduled post queued", "actor", actor.ID, "time", hhmm, "date", today)
			fired++
		}
	}
	return fired
}
