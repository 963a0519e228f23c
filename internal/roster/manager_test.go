package roster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/circled/internal/limiter"
	"github.com/kalambet/circled/internal/relationship"
	"github.com/kalambet/circled/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testActors = []Actor{
	{ID: "mika", Name: "Mika", Tier: limiter.TierLow, RelationshipEnabled: true},
	{ID: "ren", Name: "Ren", Tier: limiter.TierMedium},
}

func newTestManager(t *testing.T, store StateStore) (*Manager, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	m, err := NewWithClock(store, testActors, clock)
	if err != nil {
		t.Fatalf("NewWithClock: %v", err)
	}
	return m, clock
}

const rosterYAML = `
actors:
  - id: mika
    name: Mika
    persona: A cheerful barista.
    tier: HIGH
    scheduled_times: ["9:00", "21:30"]
    relationships: true
  - id: ren
    persona: Quiet photographer.
`

func TestParse(t *testing.T) {
	actors, err := Parse([]byte(rosterYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(actors) != 2 {
		t.Fatalf("len = %d, want 2", len(actors))
	}
	mika := actors[0]
	if mika.Tier != limiter.TierHigh {
		t.Errorf("tier = %q, want high", mika.Tier)
	}
	if mika.ScheduledTimes[0] != "09:00" || mika.ScheduledTimes[1] != "21:30" {
		t.Errorf("times = %v, want [09:00 21:30]", mika.ScheduledTimes)
	}
	if !mika.RelationshipEnabled {
		t.Error("relationships not enabled")
	}
	ren := actors[1]
	if ren.Name != "ren" || ren.Tier != limiter.TierMedium {
		t.Errorf("ren = (%q, %q), want (ren, medium)", ren.Name, ren.Tier)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"missing id":   "actors:\n  - name: x\n",
		"duplicate id": "actors:\n  - id: a\n  - id: a\n",
		"bad tier":     "actors:\n  - id: a\n    tier: often\n",
		"bad time":     "actors:\n  - id: a\n    scheduled_times: [\"25:00\"]\n",
		"not yaml":     "actors: [\n",
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("%s: Parse error = nil, want error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actors.yaml")
	if err := os.WriteFile(path, []byte(rosterYAML), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	actors, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(actors) != 2 {
		t.Errorf("len = %d, want 2", len(actors))
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) error = nil, want error")
	}
}

func TestUpdateRelationship_PersistsAndRespectsFlag(t *testing.T) {
	store := openTestStore(t)
	m, _ := newTestManager(t, store)

	if err := m.UpdateRelationship("mika", "ren", relationship.CommentDelta, nil, "commented on a post"); err != nil {
		t.Fatalf("UpdateRelationship: %v", err)
	}
	if err := m.UpdateRelationship("mika", "mika", 50, nil, ""); err != nil {
		t.Fatalf("self UpdateRelationship: %v", err)
	}
	if err := m.UpdateRelationship("ren", "mika", 10, nil, ""); err != nil {
		t.Fatalf("disabled UpdateRelationship: %v", err)
	}

	st, err := m.State("mika")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	rel, ok := st.Relationships.Relationships["ren"]
	if !ok || rel.Strength != 2 || rel.Description != "commented on a post" {
		t.Errorf("mika->ren = %+v, want strength 2 with note", rel)
	}
	if _, ok := st.Relationships.Relationships["mika"]; ok {
		t.Error("self relationship created")
	}

	st, _ = m.State("ren")
	if len(st.Relationships.Relationships) != 0 {
		t.Errorf("ren relationships = %v, want none", st.Relationships.Relationships)
	}

	if err := m.UpdateRelationship("ghost", "ren", 1, nil, ""); !errors.Is(err, ErrUnknownActor) {
		t.Errorf("unknown actor error = %v, want ErrUnknownActor", err)
	}
}

func TestAppendMessage_AndMarkRead(t *testing.T) {
	m, clock := newTestManager(t, openTestStore(t))

	for i := 0; i < relationship.MaxMessages+3; i++ {
		err := m.AppendMessage("mika", relationship.Message{SenderID: "ren", Kind: relationship.KindLike, Content: "liked your post"})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	st, _ := m.State("mika")
	if len(st.Messages) != relationship.MaxMessages {
		t.Fatalf("messages = %d, want %d", len(st.Messages), relationship.MaxMessages)
	}
	if st.Messages[0].ID == "" || !st.Messages[0].Timestamp.Equal(clock.t) || st.Messages[0].RecipientID != "mika" {
		t.Errorf("message not stamped: %+v", st.Messages[0])
	}
	if relationship.Unread(st.Messages) != relationship.MaxMessages {
		t.Errorf("unread = %d, want %d", relationship.Unread(st.Messages), relationship.MaxMessages)
	}

	if err := m.MarkMessagesRead("mika"); err != nil {
		t.Fatalf("MarkMessagesRead: %v", err)
	}
	st, _ = m.State("mika")
	if relationship.Unread(st.Messages) != 0 {
		t.Errorf("unread after MarkMessagesRead = %d, want 0", relationship.Unread(st.Messages))
	}
}

func TestLimiterStatsSurviveRestart(t *testing.T) {
	store := openTestStore(t)
	m, _ := newTestManager(t, store)

	if !m.CheckInteraction("mika", "ren", limiter.KindPost) {
		t.Fatal("first Check = false")
	}
	if err := m.RecordInteraction("mika", "ren", limiter.KindPost); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if m.CheckInteraction("mika", "ren", limiter.KindPost) {
		t.Fatal("low tier Check after one record = true")
	}

	m2, _ := newTestManager(t, store)
	if m2.CheckInteraction("mika", "ren", limiter.KindPost) {
		t.Error("restored manager allows capped target")
	}
	if !m2.CheckInteraction("ren", "mika", limiter.KindPost) {
		t.Error("ren's counters should be untouched")
	}
}

func TestNeedsReview(t *testing.T) {
	m, clock := newTestManager(t, openTestStore(t))

	due, err := m.NeedsReview("mika")
	if err != nil || !due {
		t.Fatalf("NeedsReview = (%v, %v), want (true, nil)", due, err)
	}
	if err := m.MarkReviewed("mika"); err != nil {
		t.Fatalf("MarkReviewed: %v", err)
	}
	clock.t = clock.t.Add(time.Hour)
	if due, _ := m.NeedsReview("mika"); due {
		t.Error("NeedsReview an hour after review = true")
	}
}

func TestActorsOrder(t *testing.T) {
	m, _ := newTestManager(t, openTestStore(t))
	got := m.Actors()
	if len(got) != 2 || got[0].ID != "mika" || got[1].ID != "ren" {
		t.Errorf("Actors = %v, want [mika ren]", got)
	}
	if _, ok := m.Actor("ghost"); ok {
		t.Error("Actor(ghost) found")
	}
}

func TestNew_CorruptStateStartsFresh(t *testing.T) {
	store := openTestStore(t)
	if err := store.Set("actor:mika", "{broken"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	m, _ := newTestManager(t, store)
	st, err := m.State("mika")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Messages) != 0 || len(st.Relationships.Relationships) != 0 {
		t.Errorf("state = %+v, want empty", st)
	}
}
