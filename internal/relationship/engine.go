package relationship

import (
	"strings"
	"time"
)

// Strength bounds.
const (
	MinStrength = -100
	MaxStrength = 100
)

// Fixed per-kind strength deltas.
const (
	LikeDelta    = 1
	CommentDelta = 2
	ReplyDelta   = 3
)

// MaxMessages is the message box capacity.
const MaxMessages = 50

// ReviewInterval is how long a map may go without review before NeedsReview
// reports true.
const ReviewInterval = 24 * time.Hour

// maxDescription bounds the accumulated interaction notes per relationship.
const maxDescription = 500

var ladder = []struct {
	min int
	typ Type
}{
	{90, BestFriend},
	{70, CloseFriend},
	{50, Friend},
	{30, Colleague},
	{10, Acquaintance},
	{-20, Stranger},
	{-40, Rival},
}

// TypeFor returns the ladder tier for a strength value.
func TypeFor(strength int) Type {
	for _, step := range ladder {
		if strength >= step.min {
			return step.typ
		}
	}
	return Enemy
}

// DeltaFor returns the fixed delta for an interaction kind.
func DeltaFor(kind MessageKind) int {
	switch kind {
	case KindLike:
		return LikeDelta
	case KindComment:
		return CommentDelta
	case KindReply:
		return ReplyDelta
	}
	return 0
}

// NewMap returns an empty relationship map.
func NewMap() Map {
	return Map{Relationships: map[string]Relationship{}}
}

// Update applies delta to the relationship with targetID and returns the
// resulting map. The input map is not modified. A missing relationship starts
// at strength 0 as a stranger. When override is non-nil its type is used for
// this update only; the next update without one recomputes from the ladder.
func Update(m Map, targetID string, delta int, override *Type, now time.Time) Map {
	return UpdateWithNote(m, targetID, delta, override, "", now)
}

// UpdateWithNote is Update that also appends note to the relationship's
// description.
func UpdateWithNote(m Map, targetID string, delta int, override *Type, note string, now time.Time) Map {
	out := cloneMap(m)

	rel, ok := out.Relationships[targetID]
	if !ok {
		rel = Relationship{TargetID: targetID, Type: Stranger}
	}

	rel.Strength = clamp(rel.Strength + delta)
	if override != nil {
		rel.Type = *override
	} else {
		rel.Type = TypeFor(rel.Strength)
	}
	if note = strings.TrimSpace(note); note != "" {
		rel.Description = appendNote(rel.Description, note)
	}
	rel.InteractionCount++
	rel.LastUpdated = now

	out.Relationships[targetID] = rel
	out.LastUpdated = now
	return out
}

// NeedsReview reports whether m has never been reviewed or was last reviewed
// more than ReviewInterval ago.
func NeedsReview(m Map, now time.Time) bool {
	if m.LastReviewed.IsZero() {
		return true
	}
	return now.Sub(m.LastReviewed) > ReviewInterval
}

// MarkReviewed returns a copy of m with LastReviewed set to now.
func MarkReviewed(m Map, now time.Time) Map {
	out := cloneMap(m)
	out.LastReviewed = now
	return out
}

// AppendMessage prepends item to box and drops the oldest entries beyond
// MaxMessages. The input slice is not modified.
func AppendMessage(box []Message, item Message) []Message {
	n := len(box) + 1
	if n > MaxMessages {
		n = MaxMessages
	}
	out := make([]Message, 0, n)
	out = append(out, item)
	out = append(out, box[:n-1]...)
	return out
}

// MarkAllRead returns a copy of box with every message marked read.
func MarkAllRead(box []Message) []Message {
	out := make([]Message, len(box))
	for i, msg := range box {
		msg.Read = true
		out[i] = msg
	}
	return out
}

// Unread counts unread messages in box.
func Unread(box []Message) int {
	n := 0
	for _, msg := range box {
		if !msg.Read {
			n++
		}
	}
	return n
}

func clamp(v int) int {
	if v < MinStrength {
		return MinStrength
	}
	if v > MaxStrength {
		return MaxStrength
	}
	return v
}

func appendNote(desc, note string) string {
	if desc == "" {
		desc = note
	} else {
		desc = desc + " " + note
	}
	if len(desc) > maxDescription {
		desc = desc[len(desc)-maxDescription:]
		// Drop the leading partial word.
		if i := strings.IndexByte(desc, ' '); i >= 0 {
			desc = desc[i+1:]
		}
	}
	return desc
}

func cloneMap(m Map) Map {
	out := Map{
		Relationships: make(map[string]Relationship, len(m.Relationships)+1),
		LastReviewed:  m.LastReviewed,
		LastUpdated:   m.LastUpdated,
	}
	for k, v := range m.Relationships {
		out.Relationships[k] = v
	}
	return out
}
