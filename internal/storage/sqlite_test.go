package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
	if len(v2) != 2 {
		t.Errorf("applied %d migrations, want 2", len(v2))
	}
}

func TestKV_GetMissing(t *testing.T) {
	s := openTestStore(t)

	v, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || v != "" {
		t.Errorf("Get(nope) = (%q, %v), want (\"\", false)", v, ok)
	}
}

func TestKV_SetOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("circle_posts", "[]"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("circle_posts", `[{"id":"a"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get("circle_posts")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: key missing after Set")
	}
	if v != `[{"id":"a"}]` {
		t.Errorf("value = %q, want %q", v, `[{"id":"a"}]`)
	}
}

func TestKV_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Set("schedule:fired:alice:09:00", "2026-10-16"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	v, ok, err := s2.Get("schedule:fired:alice:09:00")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = (%q, %v, %v)", v, ok, err)
	}
	if v != "2026-10-16" {
		t.Errorf("value = %q, want %q", v, "2026-10-16")
	}
}

func TestKV_Delete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestJobLog_RecentOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for i, status := range []string{"completed", "rejected", "failed"} {
		r := JobRecord{
			ID:         string(rune('a' + i)),
			Kind:       "interaction",
			Priority:   i,
			ActorID:    "alice",
			PostID:     "p1",
			Status:     status,
			EnqueuedAt: base,
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordJob(r); err != nil {
			t.Fatalf("RecordJob: %v", err)
		}
	}

	got, err := s.RecentJobs(2)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Status != "failed" || got[1].Status != "rejected" {
		t.Errorf("statuses = [%s %s], want [failed rejected]", got[0].Status, got[1].Status)
	}
	if !got[0].EnqueuedAt.Equal(base) {
		t.Errorf("EnqueuedAt = %v, want %v", got[0].EnqueuedAt, base)
	}
}

func TestJobLog_SubsecondOrdering(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 10, 16, 9, 0, 5, 0, time.UTC)
	for id, finished := range map[string]time.Time{
		"whole": base,
		"half":  base.Add(500 * time.Millisecond),
		"early": base.Add(-time.Second),
	} {
		if err := s.RecordJob(JobRecord{ID: id, Kind: "post", ActorID: "alice", Status: "completed", EnqueuedAt: base, FinishedAt: finished}); err != nil {
			t.Fatalf("RecordJob(%s): %v", id, err)
		}
	}

	got, err := s.RecentJobs(3)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	var order []string
	for _, r := range got {
		order = append(order, r.ID)
	}
	if len(order) != 3 || order[0] != "half" || order[1] != "whole" || order[2] != "early" {
		t.Errorf("order = %v, want [half whole early]", order)
	}
	if !got[0].FinishedAt.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("FinishedAt = %v, want %v", got[0].FinishedAt, base.Add(500*time.Millisecond))
	}
}
