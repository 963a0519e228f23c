package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
	"github.com/kalambet/circled/internal/storage"
)

// User is the human owner of the circle; posts and comments created through
// the API are attributed to it.
type User struct {
	ID   string
	Name string
}

// JobLister returns the most recent terminal job outcomes.
// Implemented by storage.Store.
type JobLister interface {
	RecentJobs(limit int) ([]storage.JobRecord, error)
}

type AppDeps struct {
	Scheduler *scheduler.Scheduler
	Registry  *scheduler.Registry
	Posts     *posts.Store
	Roster    *roster.Manager
	Jobs      JobLister // optional; if nil, GET /scheduler omits recent jobs
	User      User
	Token     string
}

// NewAppHandler returns the circle REST API. Everything except /health
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/posts", handleListPosts(deps))
		r.Post("/posts", handleCreatePost(deps))
		r.Post("/posts/sync", handleSyncPosts(deps))
		r.Get("/posts/{id}", handleGetPost(deps))
		r.Delete("/posts/{id}", handleDeletePost(deps))
		r.Post("/posts/{id}/comments", handleCreateComment(deps))
		r.Get("/posts/{id}/stream", handleStreamPost(deps))

		r.Get("/actors", handleListActors(deps))
		r.Post("/actors/{id}/posts", handleSchedulePost(deps))
		r.Post("/actors/{id}/reactions", handleScheduleReaction(deps))
		r.Get("/actors/{id}/relationships", handleGetRelationships(deps))
		r.Post("/actors/{id}/relationships/review", handleMarkReviewed(deps))
		r.Get("/actors/{id}/messages", handleListMessages(deps))
		r.Post("/actors/{id}/messages/read", handleMarkRead(deps))
		r.Get("/actors/{id}/schedule", handleGetSchedule(deps))
		r.Put("/actors/{id}/schedule", handlePutSchedule(deps))
		r.Delete("/actors/{id}/schedule", handleResetSchedule(deps))

		r.Get("/scheduler", handleSchedulerStats(deps))
	})

	return r
}
