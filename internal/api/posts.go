package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/scheduler"
)

type CreatePostRequest struct {
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

type CreatePostResponse struct {
	Post posts.Post `json:"post"`
	Jobs []string   `json:"jobs"`
}

type CreateCommentRequest struct {
	Content string `json:"content"`
	// ReplyToCommentID answers an existing comment; its author is asked
	// to respond when it is an actor.
	ReplyToCommentID string `json:"replyToCommentId"`
}

type CreateCommentResponse struct {
	Comment posts.Comment `json:"comment"`
	Jobs    []string      `json:"jobs"`
}

func handleListPosts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		list, err := deps.Posts.Load()
		if err != nil {
			domainError(w, err, "failed to load posts")
			return
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		if author := r.URL.Query().Get("author"); author != "" {
			filtered := list[:0]
			for _, p := range list {
				if p.AuthorID == author {
					filtered = append(filtered, p)
				}
			}
			list = filtered
		}

		page := []posts.Post{}
		if offset < len(list) {
			end := min(offset+limit, len(list))
			page = list[offset:end]
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func handleGetPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Posts.Get(chi.URLParam(r, "id"))
		if err != nil {
			domainError(w, err, "failed to get post")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeletePost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Posts.Delete(chi.URLParam(r, "id")); err != nil {
			domainError(w, err, "failed to delete post")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleCreatePost publishes a post by the circle owner and asks every
// actor to react to it ahead of autonomous work.
func handleCreatePost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePostRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" && len(req.Images) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content or images is required")
			return
		}

		p := posts.Post{
			ID:         uuid.New().String(),
			AuthorID:   deps.User.ID,
			AuthorName: deps.User.Name,
			Content:    req.Content,
			Images:     req.Images,
			CreatedAt:  time.Now().UTC(),
			Comments:   []posts.Comment{},
			LikedBy:    []posts.Like{},
		}
		if err := deps.Posts.Upsert(p); err != nil {
			domainError(w, err, "failed to save post")
			return
		}

		jobs := []string{}
		for _, a := range deps.Roster.Actors() {
			job, err := deps.Scheduler.ScheduleUserDirectedInteraction(a.ID, p.ID, scheduler.Payload{Images: req.Images})
			if err != nil {
				domainError(w, err, "failed to queue reaction")
				return
			}
			jobs = append(jobs, job.ID)
		}

		writeJSON(w, http.StatusCreated, CreatePostResponse{Post: p, Jobs: jobs})
	}
}

// handleCreateComment adds a comment by the circle owner. The actor who
// wrote the post, or the actor whose comment is answered, is asked to reply.
func handleCreateComment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := chi.URLParam(r, "id")

		var req CreateCommentRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		c := posts.Comment{
			ID:        uuid.New().String(),
			UserID:    deps.User.ID,
			UserName:  deps.User.Name,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
			Kind:      posts.CommentUser,
		}

		var responderID string
		updated, err := deps.Posts.Update(postID, func(p *posts.Post) error {
			responderID = p.AuthorID
			if req.ReplyToCommentID != "" {
				parent, ok := p.FindComment(req.ReplyToCommentID)
				if !ok {
					return posts.ErrNotFound
				}
				c.ReplyTo = &posts.ReplyTo{UserID: parent.UserID, UserName: parent.UserName}
				responderID = parent.UserID
			}
			p.AddComment(c)
			return nil
		})
		if err != nil {
			domainError(w, err, "failed to add comment")
			return
		}

		jobs := []string{}
		if _, ok := deps.Roster.Actor(responderID); ok {
			job, err := deps.Scheduler.ScheduleUserDirectedInteraction(responderID, updated.ID, scheduler.Payload{CommentID: c.ID})
			if err != nil {
				domainError(w, err, "failed to queue reply")
				return
			}
			jobs = append(jobs, job.ID)
		}

		writeJSON(w, http.StatusCreated, CreateCommentResponse{Comment: c, Jobs: jobs})
	}
}

// handleSyncPosts merges a client's post list into the durable one and
// returns the merged list.
func handleSyncPosts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var candidates []posts.Post
		if !decodeBody(w, r, maxSyncBodySize, &candidates) {
			return
		}
		for _, p := range candidates {
			if p.ID == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "every post needs an id")
				return
			}
		}
		merged, err := deps.Posts.Sync(candidates)
		if err != nil {
			domainError(w, err, "failed to sync posts")
			return
		}
		writeJSON(w, http.StatusOK, merged)
	}
}
