// Package posts persists the circle feed in a key/value store and merges
// concurrent edits without losing comments.
package posts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Key is the KV key holding the serialized post list.
const Key = "circle_posts"

var (
	// ErrNotFound is returned when no post has the requested id.
	ErrNotFound = errors.New("post not found")
	// ErrSerialization is returned when a post list does not survive a
	// serialization round trip. Durable state is left untouched.
	ErrSerialization = errors.New("post list failed serialization check")
)

// KV is the durable key/value storage the Store needs.
// Implemented by storage.Store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Store is the durable post list. All methods are serialized by an internal
// mutex, so each load/merge/save sequence is atomic with respect to others.
type Store struct {
	kv     KV
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a Store backed by kv.
func NewStore(kv KV) *Store {
	return &Store{
		kv:     kv,
		logger: slog.Default(),
	}
}

// Load returns the durable post list. Entries that are not objects with a
// non-empty id are dropped; fields of a kept entry that do not decode are
// zeroed. Either way the cleaned list is written back. A blob that is not a
// JSON array at all is replaced by an empty list.
func (s *Store) Load() ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]Post, error) {
	raw, ok, err := s.kv.Get(Key)
	if err != nil {
		return nil, fmt.Errorf("reading posts: %w", err)
	}
	if !ok || raw == "" {
		return []Post{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("post list unreadable, resetting", "error", err)
		if err := s.kv.Set(Key, "[]"); err != nil {
			return nil, fmt.Errorf("resetting posts: %w", err)
		}
		return []Post{}, nil
	}

	list := make([]Post, 0, len(entries))
	dropped, repaired := 0, 0
	for _, e := range entries {
		p, ok, clean := decodePost(e)
		if !ok {
			dropped++
			continue
		}
		if !clean {
			repaired++
		}
		list = append(list, p)
	}

	if dropped > 0 || repaired > 0 {
		s.logger.Warn("healed post list", "dropped", dropped, "repaired", repaired, "kept", len(list))
		if err := s.saveLocked(list); err != nil {
			return nil, fmt.Errorf("re-persisting cleaned posts: %w", err)
		}
	}
	return list, nil
}

// Save replaces the durable list with list. The serialized form is parsed
// back and its ids compared before anything is written; on mismatch Save
// returns ErrSerialization.
func (s *Store) Save(list []Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(list)
}

func (s *Store) saveLocked(list []Post) error {
	if list == nil {
		list = []Post{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		s.logger.Error("serializing posts", "error", err)
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := verify(list, data); err != nil {
		s.logger.Error("post list round trip failed", "error", err)
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := s.kv.Set(Key, string(data)); err != nil {
		return fmt.Errorf("writing posts: %w", err)
	}
	return nil
}

// verify checks that data parses back into the same ids as list, and that
// every id is present and unique.
func verify(list []Post, data []byte) error {
	var back []Post
	if err := json.Unmarshal(data, &back); err != nil {
		return err
	}
	if len(back) != len(list) {
		return fmt.Errorf("parsed %d posts, want %d", len(back), len(list))
	}
	seen := make(map[string]struct{}, len(back))
	for i := range back {
		id := back[i].ID
		if id == "" {
			return fmt.Errorf("post %d has no id", i)
		}
		if id != list[i].ID {
			return fmt.Errorf("post %d id %q, want %q", i, id, list[i].ID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate post id %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Get returns the post with the given id.
func (s *Store) Get(id string) (Post, error) {
	list, err := s.Load()
	if err != nil {
		return Post{}, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return Post{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// Upsert replaces the post with p.ID, or appends p if absent.
func (s *Store) Upsert(p Post) error {
	if p.ID == "" {
		return fmt.Errorf("%w: post has no id", ErrSerialization)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.loadLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, p)
	}
	return s.saveLocked(list)
}

// Delete removes the post with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.loadLocked()
	if err != nil {
		return err
	}
	out := list[:0]
	found := false
	for _, p := range list {
		if p.ID == id {
			found = true
			continue
		}
		out = append(out, p)
	}
	if !found {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return s.saveLocked(out)
}

// Update loads the post with the given id, applies fn to a copy, merges the
// result with the durable list and saves it. An error from fn aborts the
// update without writing. The merged post is returned.
func (s *Store) Update(id string, fn func(*Post) error) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	durable, err := s.loadLocked()
	if err != nil {
		return Post{}, err
	}

	var target *Post
	for i := range durable {
		if durable[i].ID == id {
			p := durable[i].clone()
			target = &p
			break
		}
	}
	if target == nil {
		return Post{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	if err := fn(target); err != nil {
		return Post{}, err
	}
	target.ID = id

	merged := Merge(durable, []Post{*target})
	if err := s.saveLocked(merged); err != nil {
		return Post{}, err
	}
	for _, p := range merged {
		if p.ID == id {
			return p, nil
		}
	}
	return Post{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// Sync merges candidates into the durable list, saves and returns the result.
func (s *Store) Sync(candidates []Post) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	durable, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	merged := Merge(durable, candidates)
	if err := s.saveLocked(merged); err != nil {
		return nil, err
	}
	return merged, nil
}
