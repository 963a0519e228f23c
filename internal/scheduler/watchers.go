package scheduler

import (
	"sync"

	"github.com/kalambet/circled/internal/posts"
)

// watchers is a per-post observer registry. Entries are removed when their
// cancel func runs, and a post's slot is dropped with its last watcher.
type watchers struct {
	mu     sync.Mutex
	next   uint64
	byPost map[string]map[uint64]func(posts.Post)
}

func newWatchers() *watchers {
	return &watchers{byPost: map[string]map[uint64]func(posts.Post){}}
}

func (w *watchers) watch(postID string, fn func(posts.Post)) func() {
	w.mu.Lock()
	w.next++
	id := w.next
	set, ok := w.byPost[postID]
	if !ok {
		set = map[uint64]func(posts.Post){}
		w.byPost[postID] = set
	}
	set[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			set, ok := w.byPost[postID]
			if !ok {
				return
			}
			delete(set, id)
			if len(set) == 0 {
				delete(w.byPost, postID)
			}
		})
	}
}

// fire calls every watcher of p.ID synchronously, outside the lock so a
// callback may cancel itself.
func (w *watchers) fire(p posts.Post) {
	w.mu.Lock()
	set := w.byPost[p.ID]
	fns := make([]func(posts.Post), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// count returns the number of posts with at least one watcher and the total
// number of watchers.
func (w *watchers) count() (postsWatched, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, set := range w.byPost {
		total += len(set)
	}
	return len(w.byPost), total
}
