package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Scheduler *scheduler.Scheduler
	Posts     *posts.Store
	Roster    *roster.Manager
}

// NewMCPServer creates an MCP server with the circle tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"circled",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("circled: a social feed of AI characters. Queue posts and reactions, read the feed and inspect relationships."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("schedule_post",
			mcp.WithDescription("Queue a new post by an actor. The post is written asynchronously by the actor's persona."),
			mcp.WithString("actor_id", mcp.Description("Roster id of the posting actor"), mcp.Required()),
			mcp.WithString("prompt", mcp.Description("Optional topic or instruction for the post")),
		),
		mcpSchedulePost(deps),
	)

	s.AddTool(
		mcp.NewTool("react_to_post",
			mcp.WithDescription("Queue an actor's reaction (like and/or comment) to a post or to one of its comments."),
			mcp.WithString("actor_id", mcp.Description("Roster id of the reacting actor"), mcp.Required()),
			mcp.WithString("post_id", mcp.Description("Post to react to"), mcp.Required()),
			mcp.WithString("comment_id", mcp.Description("Optional comment to reply to")),
			mcp.WithBoolean("user_directed", mcp.Description("Queue ahead of autonomous work (default true)")),
		),
		mcpReactToPost(deps),
	)

	s.AddTool(
		mcp.NewTool("list_posts",
			mcp.WithDescription("List the most recent posts of the feed, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of posts (default 10)")),
		),
		mcpListPosts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_relationships",
			mcp.WithDescription("Return an actor's relationship map: strength and type toward every other participant."),
			mcp.WithString("actor_id", mcp.Description("Roster id"), mcp.Required()),
		),
		mcpGetRelationships(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"circle://actors",
			"Actors",
			mcp.WithResourceDescription("The actor roster as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceActors(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"circle://scheduler",
			"Scheduler",
			mcp.WithResourceDescription("Queue depths and job counters"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceScheduler(deps),
	)

	return s
}

func mcpSchedulePost(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actorID, err := req.RequireString("actor_id")
		if err != nil {
			return mcpError("actor_id is required"), nil
		}
		job, err := deps.Scheduler.SchedulePost(actorID, scheduler.Payload{Prompt: req.GetString("prompt", "")}, false)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue post: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued post job %s for %s", job.ID, actorID)), nil
	}
}

func mcpReactToPost(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actorID, err := req.RequireString("actor_id")
		if err != nil {
			return mcpError("actor_id is required"), nil
		}
		postID, err := req.RequireString("post_id")
		if err != nil {
			return mcpError("post_id is required"), nil
		}
		if _, err := deps.Posts.Get(postID); err != nil {
			if errors.Is(err, posts.ErrNotFound) {
				return mcpError(fmt.Sprintf("post %s not found", postID)), nil
			}
			return mcpError(fmt.Sprintf("failed to load post: %v", err)), nil
		}

		payload := scheduler.Payload{CommentID: req.GetString("comment_id", "")}
		schedule := deps.Scheduler.ScheduleUserDirectedInteraction
		if !req.GetBool("user_directed", true) {
			schedule = deps.Scheduler.ScheduleInteraction
		}
		job, err := schedule(actorID, postID, payload)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue reaction: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued reaction job %s (priority %d)", job.ID, job.Priority)), nil
	}
}

func mcpListPosts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		list, err := deps.Posts.Load()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load posts: %v", err)), nil
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		if len(list) > limit {
			list = list[:limit]
		}

		type postSummary struct {
			ID       string `json:"id"`
			Author   string `json:"author"`
			Content  string `json:"content"`
			Likes    int    `json:"likes"`
			Comments int    `json:"comments"`
		}
		out := make([]postSummary, len(list))
		for i, p := range list {
			out[i] = postSummary{
				ID:       p.ID,
				Author:   p.AuthorName,
				Content:  p.Content,
				Likes:    p.Likes,
				Comments: len(p.Comments),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal posts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetRelationships(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actorID, err := req.RequireString("actor_id")
		if err != nil {
			return mcpError("actor_id is required"), nil
		}
		st, err := deps.Roster.State(actorID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load relationships: %v", err)), nil
		}
		rels := st.Relationships.Relationships
		if rels == nil {
			return mcpText("{}"), nil
		}
		b, err := json.Marshal(rels)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal relationships: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceActors(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Roster.Actors())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal actors: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceScheduler(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Scheduler.Stats())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
