package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/circled/internal/limiter"
	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/responder"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
	"github.com/kalambet/circled/internal/storage"
)

const testToken = "test-token-12345"

type stubResponder struct {
	result responder.Result
}

func (s *stubResponder) Generate(context.Context, responder.Request) responder.Result {
	return s.result
}

type testApp struct {
	handler http.Handler
	deps    AppDeps
	store   *storage.Store
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rm, err := roster.New(store, []roster.Actor{
		{ID: "mika", Name: "Mika", Tier: limiter.TierMedium, RelationshipEnabled: true, ScheduledTimes: []string{"09:00"}},
		{ID: "ren", Name: "Ren", Tier: limiter.TierMedium, RelationshipEnabled: true},
	})
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	ps := posts.NewStore(store)
	sched := scheduler.New(scheduler.Deps{
		Actors:    rm,
		Posts:     ps,
		Responder: &stubResponder{result: responder.Result{Success: true, Like: true, CommentText: "so good"}},
		JobLog:    store,
	}, time.Millisecond)

	deps := AppDeps{
		Scheduler: sched,
		Registry:  scheduler.NewRegistry(store, rm),
		Posts:     ps,
		Roster:    rm,
		Jobs:      store,
		User:      User{ID: "user", Name: "You"},
		Token:     testToken,
	}
	return &testApp{handler: NewAppHandler(deps), deps: deps, store: store}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (a *testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, authReq(method, url, body, testToken))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (a *testApp) drain(t *testing.T) {
	t.Helper()
	for {
		ran, err := a.deps.Scheduler.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
		if !ran {
			return
		}
	}
}

func (a *testApp) seed(t *testing.T, p posts.Post) {
	t.Helper()
	if p.Comments == nil {
		p.Comments = []posts.Comment{}
	}
	if p.LikedBy == nil {
		p.LikedBy = []posts.Like{}
	}
	if err := a.deps.Posts.Upsert(p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestHealth_NoAuth(t *testing.T) {
	app := setupApp(t)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	app := setupApp(t)
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.handler.ServeHTTP(rec, authReq(http.MethodGet, "/posts", "", tt.token))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, authReq(http.MethodGet, "/posts", "", ""))
	body := decode[map[string]map[string]string](t, rec)
	if body["error"]["type"] != "authentication_error" {
		t.Errorf("error type = %q, want authentication_error", body["error"]["type"])
	}
}

func TestCreatePost_QueuesUserDirectedReactions(t *testing.T) {
	app := setupApp(t)

	rec := app.do(t, http.MethodPost, "/posts", `{"content":"first light over the harbour"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	resp := decode[CreatePostResponse](t, rec)
	if resp.Post.AuthorID != "user" || resp.Post.ID == "" {
		t.Errorf("post = %+v", resp.Post)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("jobs = %v, want 2", resp.Jobs)
	}
	if got := app.deps.Scheduler.Stats().Queued[scheduler.PriorityUserDirected]; got != 2 {
		t.Errorf("user-directed queued = %d, want 2", got)
	}

	app.drain(t)
	p, err := app.deps.Posts.Get(resp.Post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Likes != 2 || len(p.Comments) != 2 {
		t.Errorf("likes = %d comments = %d, want 2 and 2", p.Likes, len(p.Comments))
	}
}

func TestCreatePost_Validation(t *testing.T) {
	app := setupApp(t)
	for _, body := range []string{`{"content":"  "}`, `not json`} {
		if rec := app.do(t, http.MethodPost, "/posts", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCreateComment_RoutesReply(t *testing.T) {
	app := setupApp(t)
	app.seed(t, posts.Post{ID: "p-mika", AuthorID: "mika", AuthorName: "Mika", Content: "rain again", CreatedAt: time.Now()})
	app.seed(t, posts.Post{ID: "p-user", AuthorID: "user", AuthorName: "You", Content: "hello", CreatedAt: time.Now(),
		Comments: []posts.Comment{{ID: "c-ren", UserID: "ren", UserName: "Ren", Content: "hi!", Kind: posts.CommentCharacter}}})

	tests := []struct {
		name     string
		url      string
		body     string
		wantCode int
		wantJobs int
	}{
		{"actor post", "/posts/p-mika/comments", `{"content":"love it"}`, http.StatusCreated, 1},
		{"user post", "/posts/p-user/comments", `{"content":"note to self"}`, http.StatusCreated, 0},
		{"reply to actor comment", "/posts/p-user/comments", `{"content":"hey ren","replyToCommentId":"c-ren"}`, http.StatusCreated, 1},
		{"unknown parent", "/posts/p-user/comments", `{"content":"?","replyToCommentId":"nope"}`, http.StatusNotFound, 0},
		{"unknown post", "/posts/nope/comments", `{"content":"?"}`, http.StatusNotFound, 0},
		{"empty", "/posts/p-mika/comments", `{"content":""}`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, tt.url, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantCode, rec.Body)
			}
			if rec.Code != http.StatusCreated {
				return
			}
			resp := decode[CreateCommentResponse](t, rec)
			if len(resp.Jobs) != tt.wantJobs {
				t.Errorf("jobs = %d, want %d", len(resp.Jobs), tt.wantJobs)
			}
			if resp.Comment.Kind != posts.CommentUser {
				t.Errorf("comment kind = %q, want user", resp.Comment.Kind)
			}
		})
	}

	// Ren answers the reply addressed to it.
	app.drain(t)
	p, _ := app.deps.Posts.Get("p-user")
	var renReplies int
	for _, c := range p.Comments {
		if c.UserID == "ren" && c.ReplyTo != nil && c.ReplyTo.UserID == "user" {
			renReplies++
		}
	}
	if renReplies != 1 {
		t.Errorf("ren replies = %d, want 1", renReplies)
	}
}

func TestListPosts_NewestFirstAndPaged(t *testing.T) {
	app := setupApp(t)
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		app.seed(t, posts.Post{ID: id, AuthorID: "mika", Content: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	got := decode[[]posts.Post](t, app.do(t, http.MethodGet, "/posts?limit=2", ""))
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("page 1 = %v", ids(got))
	}
	got = decode[[]posts.Post](t, app.do(t, http.MethodGet, "/posts?limit=2&offset=2", ""))
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("page 2 = %v", ids(got))
	}
	got = decode[[]posts.Post](t, app.do(t, http.MethodGet, "/posts?offset=10", ""))
	if len(got) != 0 {
		t.Errorf("past end = %v, want empty", ids(got))
	}
	got = decode[[]posts.Post](t, app.do(t, http.MethodGet, "/posts?author=ren", ""))
	if len(got) != 0 {
		t.Errorf("author filter = %v, want empty", ids(got))
	}
}

func ids(list []posts.Post) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.ID
	}
	return out
}

func TestGetAndDeletePost(t *testing.T) {
	app := setupApp(t)
	app.seed(t, posts.Post{ID: "p1", AuthorID: "mika", Content: "x", CreatedAt: time.Now()})

	if rec := app.do(t, http.MethodGet, "/posts/p1", ""); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
	if rec := app.do(t, http.MethodDelete, "/posts/p1", ""); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := app.do(t, http.MethodGet, "/posts/p1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
	if rec := app.do(t, http.MethodDelete, "/posts/p1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestSyncPosts_Merges(t *testing.T) {
	app := setupApp(t)
	app.seed(t, posts.Post{ID: "p1", AuthorID: "mika", Content: "x", CreatedAt: time.Now(),
		Comments: []posts.Comment{{ID: "c1", UserID: "ren", Content: "durable"}}})

	body := `[{"id":"p1","characterId":"mika","content":"x","comments":[{"id":"c2","userId":"user","content":"client"}],"likedBy":[]},
	          {"id":"p2","characterId":"ren","content":"new","comments":[],"likedBy":[]}]`
	rec := app.do(t, http.MethodPost, "/posts/sync", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	merged := decode[[]posts.Post](t, rec)
	if len(merged) != 2 {
		t.Fatalf("merged = %v, want 2 posts", ids(merged))
	}
	if len(merged[0].Comments) != 2 {
		t.Errorf("p1 comments = %d, want 2 (union)", len(merged[0].Comments))
	}

	if rec := app.do(t, http.MethodPost, "/posts/sync", `[{"content":"no id"}]`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
}

func TestSchedulePost(t *testing.T) {
	app := setupApp(t)

	rec := app.do(t, http.MethodPost, "/actors/mika/posts", `{"prompt":"autumn","scheduled":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	job := decode[scheduler.Job](t, rec)
	if job.Priority != scheduler.PriorityScheduledPost || job.Payload.Prompt != "autumn" {
		t.Errorf("job = %+v", job)
	}

	if rec := app.do(t, http.MethodPost, "/actors/ghost/posts", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown actor status = %d, want 404", rec.Code)
	}
}

func TestScheduleReaction(t *testing.T) {
	app := setupApp(t)
	app.seed(t, posts.Post{ID: "p1", AuthorID: "mika", Content: "x", CreatedAt: time.Now()})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantPrio int
	}{
		{"autonomous", `{"postId":"p1"}`, http.StatusAccepted, scheduler.PriorityInteraction},
		{"user directed", `{"postId":"p1","userDirected":true}`, http.StatusAccepted, scheduler.PriorityUserDirected},
		{"missing post id", `{}`, http.StatusBadRequest, 0},
		{"unknown post", `{"postId":"nope"}`, http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/actors/ren/reactions", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantCode, rec.Body)
			}
			if rec.Code == http.StatusAccepted {
				if job := decode[scheduler.Job](t, rec); job.Priority != tt.wantPrio {
					t.Errorf("priority = %d, want %d", job.Priority, tt.wantPrio)
				}
			}
		})
	}
}

func TestRelationshipsAndMessages(t *testing.T) {
	app := setupApp(t)
	app.seed(t, posts.Post{ID: "p1", AuthorID: "mika", AuthorName: "Mika", Content: "x", CreatedAt: time.Now()})
	if rec := app.do(t, http.MethodPost, "/actors/ren/reactions", `{"postId":"p1"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	app.drain(t)

	rels := decode[RelationshipsResponse](t, app.do(t, http.MethodGet, "/actors/mika/relationships", ""))
	r, ok := rels.Items["ren"]
	if !ok {
		t.Fatalf("mika has no relationship toward ren: %+v", rels)
	}
	if r.Strength != 3 {
		t.Errorf("strength = %d, want 3 (like + comment)", r.Strength)
	}
	if !rels.NeedsReview {
		t.Error("NeedsReview = false for a never-reviewed map")
	}
	if rec := app.do(t, http.MethodPost, "/actors/mika/relationships/review", ""); rec.Code != http.StatusOK {
		t.Errorf("review status = %d", rec.Code)
	}
	rels = decode[RelationshipsResponse](t, app.do(t, http.MethodGet, "/actors/mika/relationships", ""))
	if rels.NeedsReview || rels.LastReviewed == nil {
		t.Errorf("after review: NeedsReview = %v, LastReviewed = %v", rels.NeedsReview, rels.LastReviewed)
	}

	rec := app.do(t, http.MethodGet, "/actors/mika/messages?unread=true", "")
	if got := rec.Header().Get("X-Unread-Count"); got != "2" {
		t.Errorf("X-Unread-Count = %q, want 2", got)
	}
	if msgs := decode[[]map[string]any](t, rec); len(msgs) != 2 {
		t.Errorf("unread messages = %d, want 2", len(msgs))
	}
	if rec := app.do(t, http.MethodPost, "/actors/mika/messages/read", ""); rec.Code != http.StatusOK {
		t.Errorf("mark read status = %d", rec.Code)
	}
	if msgs := decode[[]map[string]any](t, app.do(t, http.MethodGet, "/actors/mika/messages?unread=true", "")); len(msgs) != 0 {
		t.Errorf("unread after mark = %d, want 0", len(msgs))
	}
	if msgs := decode[[]map[string]any](t, app.do(t, http.MethodGet, "/actors/mika/messages", "")); len(msgs) != 2 {
		t.Errorf("all messages = %d, want 2", len(msgs))
	}

	if rec := app.do(t, http.MethodGet, "/actors/ghost/relationships", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown actor status = %d, want 404", rec.Code)
	}
}

func TestSchedule_GetPut(t *testing.T) {
	app := setupApp(t)

	got := decode[ScheduleRequest](t, app.do(t, http.MethodGet, "/actors/mika/schedule", ""))
	if len(got.Times) != 1 || got.Times[0] != "09:00" {
		t.Errorf("default times = %v, want [09:00]", got.Times)
	}
	got = decode[ScheduleRequest](t, app.do(t, http.MethodGet, "/actors/ren/schedule", ""))
	if got.Times == nil || len(got.Times) != 0 {
		t.Errorf("ren times = %#v, want empty", got.Times)
	}

	rec := app.do(t, http.MethodPut, "/actors/ren/schedule", `{"times":["18:30","7:15"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", rec.Code, rec.Body)
	}
	got = decode[ScheduleRequest](t, rec)
	if len(got.Times) != 2 || got.Times[0] != "07:15" || got.Times[1] != "18:30" {
		t.Errorf("saved times = %v", got.Times)
	}

	if rec := app.do(t, http.MethodPut, "/actors/ren/schedule", `{"times":["25:00"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad time status = %d, want 400", rec.Code)
	}
}

func TestSchedule_Reset(t *testing.T) {
	app := setupApp(t)

	if rec := app.do(t, http.MethodPut, "/actors/mika/schedule", `{"times":[]}`); rec.Code != http.StatusOK {
		t.Fatalf("put status = %d", rec.Code)
	}
	rec := app.do(t, http.MethodDelete, "/actors/mika/schedule", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body)
	}
	if got := decode[ScheduleRequest](t, rec); len(got.Times) != 1 || got.Times[0] != "09:00" {
		t.Errorf("reset times = %v, want roster default [09:00]", got.Times)
	}
	if rec := app.do(t, http.MethodDelete, "/actors/ghost/schedule", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown actor status = %d, want 404", rec.Code)
	}
}

func TestSchedulerStats(t *testing.T) {
	app := setupApp(t)
	app.do(t, http.MethodPost, "/actors/mika/posts", `{}`)
	app.do(t, http.MethodPost, "/actors/ren/posts", `{}`)

	stats := decode[SchedulerResponse](t, app.do(t, http.MethodGet, "/scheduler", ""))
	if stats.Queued[scheduler.PriorityPost] != 2 {
		t.Errorf("queued posts = %d, want 2", stats.Queued[scheduler.PriorityPost])
	}

	app.drain(t)
	stats = decode[SchedulerResponse](t, app.do(t, http.MethodGet, "/scheduler", ""))
	if stats.Processed != 2 || len(stats.RecentJobs) != 2 {
		t.Errorf("processed = %d, recent = %d, want 2 and 2", stats.Processed, len(stats.RecentJobs))
	}
}
