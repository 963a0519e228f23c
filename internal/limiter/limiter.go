// Package limiter caps how often an actor may react to the same author or
// the same comment.
package limiter

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSelfInteraction is returned by GuardSelfInteraction when an actor would
// react to its own content.
var ErrSelfInteraction = errors.New("self interaction")

// Tier selects an actor's interaction frequency caps.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// ParseTier maps a tier name to its Tier. The empty string yields TierMedium.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierMedium:
		return TierMedium, nil
	case TierLow:
		return TierLow, nil
	case TierHigh:
		return TierHigh, nil
	}
	return TierMedium, fmt.Errorf("unknown interaction tier %q", s)
}

// Kind is the target kind of an interaction.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
)

type caps struct {
	perTarget       int
	distinctTargets int
	perComment      int
}

var tierCaps = map[Tier]caps{
	TierLow:    {perTarget: 1, distinctTargets: 5, perComment: 1},
	TierMedium: {perTarget: 3, distinctTargets: 5, perComment: 3},
	TierHigh:   {perTarget: 5, distinctTargets: 7, perComment: 5},
}

// Stats is the counter state for one actor. Post interactions are counted by
// the post author's id, comment interactions by the comment id.
type Stats struct {
	RepliesToTarget  map[string]int `json:"repliesToTarget"`
	RepliesToComment map[string]int `json:"repliesToComment"`
	DistinctTargets  int            `json:"distinctTargets"`
}

func newStats() *Stats {
	return &Stats{
		RepliesToTarget:  map[string]int{},
		RepliesToComment: map[string]int{},
	}
}

func (s *Stats) clone() Stats {
	out := Stats{
		RepliesToTarget:  make(map[string]int, len(s.RepliesToTarget)),
		RepliesToComment: make(map[string]int, len(s.RepliesToComment)),
		DistinctTargets:  s.DistinctTargets,
	}
	for k, v := range s.RepliesToTarget {
		out.RepliesToTarget[k] = v
	}
	for k, v := range s.RepliesToComment {
		out.RepliesToComment[k] = v
	}
	return out
}

// Limiter tracks per-actor interaction counts. It is safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	tiers map[string]Tier
	stats map[string]*Stats
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		tiers: map[string]Tier{},
		stats: map[string]*Stats{},
	}
}

// SetTier sets the tier for actorID. Unknown tiers fall back to medium.
func (l *Limiter) SetTier(actorID string, tier Tier) {
	if _, ok := tierCaps[tier]; !ok {
		tier = TierMedium
	}
	l.mu.Lock()
	l.tiers[actorID] = tier
	l.mu.Unlock()
}

// Tier returns the tier for actorID, medium when unset.
func (l *Limiter) Tier(actorID string) Tier {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tierLocked(actorID)
}

func (l *Limiter) tierLocked(actorID string) Tier {
	if t, ok := l.tiers[actorID]; ok {
		return t
	}
	return TierMedium
}

// Check reports whether actorID may react to targetID once more.
func (l *Limiter) Check(actorID, targetID string, kind Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := tierCaps[l.tierLocked(actorID)]
	s, ok := l.stats[actorID]
	if !ok {
		return true
	}

	switch kind {
	case KindPost:
		n := s.RepliesToTarget[targetID]
		if n >= c.perTarget {
			return false
		}
		if n == 0 && s.DistinctTargets >= c.distinctTargets {
			return false
		}
	case KindComment:
		if s.RepliesToComment[targetID] >= c.perComment {
			return false
		}
	}
	return true
}

// Record counts one accepted interaction by actorID on targetID.
func (l *Limiter) Record(actorID, targetID string, kind Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stats[actorID]
	if !ok {
		s = newStats()
		l.stats[actorID] = s
	}

	switch kind {
	case KindPost:
		s.RepliesToTarget[targetID]++
		if s.RepliesToTarget[targetID] == 1 {
			s.DistinctTargets++
		}
	case KindComment:
		s.RepliesToComment[targetID]++
	}
}

// Stats returns a copy of actorID's counters.
func (l *Limiter) Stats(actorID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.stats[actorID]
	if !ok {
		return newStats().clone()
	}
	return s.clone()
}

// Restore replaces actorID's counters with s.
func (l *Limiter) Restore(actorID string, s Stats) {
	c := s.clone()
	if c.RepliesToTarget == nil {
		c.RepliesToTarget = map[string]int{}
	}
	if c.RepliesToComment == nil {
		c.RepliesToComment = map[string]int{}
	}
	l.mu.Lock()
	l.stats[actorID] = &c
	l.mu.Unlock()
}

// GuardSelfInteraction rejects an actor reacting to content it authored.
// postAuthorID is the author of the post; commentAuthorID is the author of
// the comment being replied to, or empty for a reaction to the post itself.
// A post author may reply to someone else's comment on its own post, but
// never to its own comment.
func GuardSelfInteraction(actorID, postAuthorID, commentAuthorID string) error {
	if commentAuthorID == "" {
		if actorID == postAuthorID {
			return fmt.Errorf("actor %s reacting to own post: %w", actorID, ErrSelfInteraction)
		}
		return nil
	}
	if actorID == commentAuthorID {
		return fmt.Errorf("actor %s replying to own comment: %w", actorID, ErrSelfInteraction)
	}
	return nil
}
