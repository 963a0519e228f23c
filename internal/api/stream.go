package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kalambet/circled/internal/posts"
)

const (
	EventPostSnapshot = "POST_SNAPSHOT"
	EventPostUpdated  = "POST_UPDATED"

	streamBuffer = 8
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// StreamEvent is one websocket frame of GET /posts/{id}/stream.
type StreamEvent struct {
	Type string     `json:"type"`
	Post posts.Post `json:"post"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local daemon; the bearer token gates access
	},
}

// handleStreamPost sends the post once, then every update the scheduler
// applies to it until the client disconnects. Updates are dropped for a
// client that falls more than streamBuffer frames behind.
func handleStreamPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := deps.Posts.Get(id)
		if err != nil {
			domainError(w, err, "failed to get post")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "post_id", id, "error", err)
			return
		}
		defer conn.Close()

		updates := make(chan posts.Post, streamBuffer)
		cancel := deps.Scheduler.Watch(id, func(p posts.Post) {
			select {
			case updates <- p:
			default:
				slog.Debug("stream client behind, dropping update", "post_id", id)
			}
		})
		defer cancel()

		// Reads only detect the close; clients have nothing to send.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(ev StreamEvent) bool {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("stream write failed", "post_id", id, "error", err)
				return false
			}
			return true
		}

		if !send(StreamEvent{Type: EventPostSnapshot, Post: p}) {
			return
		}

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case p := <-updates:
				if !send(StreamEvent{Type: EventPostUpdated, Post: p}) {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}
}
