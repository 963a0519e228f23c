package relationship

import (
	"fmt"
	"strings"
	"time"
)

// Type is the tier of a relationship. The linear tiers are ordered by rank;
// the non-linear ones sit outside the ladder and are only reachable through
// an explicit override.
type Type int

const (
	Enemy Type = iota
	Rival
	Stranger
	Acquaintance
	Colleague
	Friend
	CloseFriend
	BestFriend

	Family
	Crush
	Lover
	Partner
	Ex
	Mentor
	Student
	Admirer
	Idol
)

var typeNames = [...]string{
	Enemy:        "enemy",
	Rival:        "rival",
	Stranger:     "stranger",
	Acquaintance: "acquaintance",
	Colleague:    "colleague",
	Friend:       "friend",
	CloseFriend:  "close_friend",
	BestFriend:   "best_friend",
	Family:       "family",
	Crush:        "crush",
	Lover:        "lover",
	Partner:      "partner",
	Ex:           "ex",
	Mentor:       "mentor",
	Student:      "student",
	Admirer:      "admirer",
	Idol:         "idol",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// Linear reports whether t is part of the strength ladder.
func (t Type) Linear() bool {
	return t >= Enemy && t <= BestFriend
}

// ParseType maps a type name to its Type. Matching is case-insensitive and
// accepts spaces or dashes in place of underscores.
func ParseType(s string) (Type, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for i, name := range typeNames {
		if name == norm {
			return Type(i), nil
		}
	}
	return Stranger, fmt.Errorf("unknown relationship type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(typeNames) {
		return nil, fmt.Errorf("invalid relationship type %d", int(t))
	}
	return []byte(typeNames[t]), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Relationship is one actor's view of another.
type Relationship struct {
	TargetID         string    `json:"targetId"`
	Strength         int       `json:"strength"`
	Type             Type      `json:"type"`
	Description      string    `json:"description,omitempty"`
	LastUpdated      time.Time `json:"lastUpdated"`
	InteractionCount int       `json:"interactionCount"`
}

// Map holds every relationship an actor has, keyed by target id.
type Map struct {
	Relationships map[string]Relationship `json:"relationships"`
	LastReviewed  time.Time               `json:"lastReviewed"`
	LastUpdated   time.Time               `json:"lastUpdated"`
}

// MessageKind classifies an entry in an actor's message box.
type MessageKind string

const (
	KindLike    MessageKind = "like"
	KindComment MessageKind = "comment"
	KindReply   MessageKind = "reply"
)

// Message is one entry in an actor's message box.
type Message struct {
	ID             string      `json:"id"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName,omitempty"`
	RecipientID    string      `json:"recipientId"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
	Kind           MessageKind `json:"kind"`
	ContextID      string      `json:"contextId,omitempty"`
	ContextContent string      `json:"contextContent,omitempty"`
	Read           bool        `json:"read"`
}
