package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/circled/internal/relationship"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
	"github.com/kalambet/circled/internal/storage"
)

type SchedulePostRequest struct {
	Prompt    string   `json:"prompt"`
	Images    []string `json:"images"`
	Scheduled bool     `json:"scheduled"`
}

type ScheduleReactionRequest struct {
	PostID    string   `json:"postId"`
	CommentID string   `json:"commentId"`
	Prompt    string   `json:"prompt"`
	Images    []string `json:"images"`
	// UserDirected queues at the highest priority.
	UserDirected bool `json:"userDirected"`
}

type ScheduleRequest struct {
	Times []string `json:"times"`
}

type RelationshipsResponse struct {
	ActorID      string                               `json:"actorId"`
	Enabled      bool                                 `json:"enabled"`
	NeedsReview  bool                                 `json:"needsReview"`
	LastReviewed *time.Time                           `json:"lastReviewed,omitempty"`
	Items        map[string]relationship.Relationship `json:"relationships"`
}

type SchedulerResponse struct {
	scheduler.Stats
	RecentJobs []storage.JobRecord `json:"recentJobs"`
}

// actorParam resolves {id} to a roster actor, writing a 404 when unknown.
func actorParam(deps AppDeps, w http.ResponseWriter, r *http.Request) (roster.Actor, bool) {
	id := chi.URLParam(r, "id")
	a, ok := deps.Roster.Actor(id)
	if !ok {
		domainError(w, fmt.Errorf("%s: %w", id, roster.ErrUnknownActor), "unknown actor")
		return roster.Actor{}, false
	}
	return a, true
}

func handleListActors(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Roster.Actors())
	}
}

func handleSchedulePost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		var req SchedulePostRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		job, err := deps.Scheduler.SchedulePost(a.ID, scheduler.Payload{Prompt: req.Prompt, Images: req.Images}, req.Scheduled)
		if err != nil {
			domainError(w, err, "failed to queue post")
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleScheduleReaction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		var req ScheduleReactionRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.PostID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "postId is required")
			return
		}
		if _, err := deps.Posts.Get(req.PostID); err != nil {
			domainError(w, err, "failed to get post")
			return
		}

		payload := scheduler.Payload{CommentID: req.CommentID, Prompt: req.Prompt, Images: req.Images}
		schedule := deps.Scheduler.ScheduleInteraction
		if req.UserDirected {
			schedule = deps.Scheduler.ScheduleUserDirectedInteraction
		}
		job, err := schedule(a.ID, req.PostID, payload)
		if err != nil {
			domainError(w, err, "failed to queue reaction")
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleGetRelationships(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		st, err := deps.Roster.State(a.ID)
		if err != nil {
			domainError(w, err, "failed to load actor state")
			return
		}
		review, err := deps.Roster.NeedsReview(a.ID)
		if err != nil {
			domainError(w, err, "failed to load actor state")
			return
		}

		resp := RelationshipsResponse{
			ActorID:     a.ID,
			Enabled:     a.RelationshipEnabled,
			NeedsReview: review,
			Items:       st.Relationships.Relationships,
		}
		if t := st.Relationships.LastReviewed; !t.IsZero() {
			resp.LastReviewed = &t
		}
		if resp.Items == nil {
			resp.Items = map[string]relationship.Relationship{}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleMarkReviewed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Roster.MarkReviewed(a.ID); err != nil {
			domainError(w, err, "failed to mark reviewed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
	}
}

func handleListMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		st, err := deps.Roster.State(a.ID)
		if err != nil {
			domainError(w, err, "failed to load actor state")
			return
		}
		unreadOnly := r.URL.Query().Get("unread") == "true"
		msgs := []relationship.Message{}
		for _, m := range st.Messages {
			if unreadOnly && m.Read {
				continue
			}
			msgs = append(msgs, m)
		}
		w.Header().Set("X-Unread-Count", strconv.Itoa(relationship.Unread(st.Messages)))
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleMarkRead(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		if err := deps.Roster.MarkMessagesRead(a.ID); err != nil {
			domainError(w, err, "failed to mark messages read")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func handleGetSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		times, err := deps.Registry.Times(a.ID)
		if err != nil {
			domainError(w, err, "failed to load schedule")
			return
		}
		writeJSON(w, http.StatusOK, ScheduleRequest{Times: nonNil(times)})
	}
}

func handlePutSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		var req ScheduleRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		times, err := deps.Registry.SetTimes(a.ID, req.Times)
		if err != nil {
			domainError(w, err, "failed to save schedule")
			return
		}
		writeJSON(w, http.StatusOK, ScheduleRequest{Times: nonNil(times)})
	}
}

func handleResetSchedule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := actorParam(deps, w, r)
		if !ok {
			return
		}
		times, err := deps.Registry.ResetTimes(a.ID)
		if err != nil {
			domainError(w, err, "failed to reset schedule")
			return
		}
		writeJSON(w, http.StatusOK, ScheduleRequest{Times: nonNil(times)})
	}
}

func handleSchedulerStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := SchedulerResponse{Stats: deps.Scheduler.Stats(), RecentJobs: []storage.JobRecord{}}
		if deps.Jobs != nil {
			jobs, err := deps.Jobs.RecentJobs(parseIntParam(r, "jobs", 10, 100))
			if err != nil {
				domainError(w, err, "failed to list jobs")
				return
			}
			if jobs != nil {
				resp.RecentJobs = jobs
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
