// Package responder generates actor posts and reactions through an
// OpenAI-compatible chat completion API.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"

	defaultTimeout = 60 * time.Second
	temperature    = 0.9
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client implements Responder over a chat completion endpoint. It never
// retries; a failed call is reported as an unsuccessful Result.
type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

// New creates a Client. Empty fields fall back to OpenRouter defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &attributionTransport{
			base:    http.DefaultTransport,
			referer: "https://github.com/kalambet/circled",
			title:   "circled",
		},
	}

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: slog.Default(),
	}
}

// attributionTransport adds the OpenRouter app attribution headers.
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", t.referer)
	req.Header.Set("X-Title", t.title)
	return t.base.RoundTrip(req)
}

// Generate asks the model to act as req.Actor.
func (c *Client) Generate(ctx context.Context, req Request) Result {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    BuildMessages(req),
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		c.logger.Warn("responder call failed", "actor", req.Actor.ID, "kind", req.Kind, "error", err)
		return Failed(fmt.Sprintf("chat completion: %v", err))
	}
	if len(resp.Choices) == 0 {
		return Failed("chat completion returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	res, err := ParseResult(raw)
	if err != nil {
		c.logger.Warn("unparseable responder output", "actor", req.Actor.ID, "error", err, "response", raw)
		return Failed(err.Error())
	}
	if req.Kind == KindPost && res.CommentText == "" {
		return Failed("model returned an empty post")
	}
	return res
}

type modelOutput struct {
	Action struct {
		Like    bool   `json:"like"`
		Comment string `json:"comment"`
	} `json:"action"`
	Thoughts      string  `json:"thoughts"`
	Relationships []Delta `json:"relationships"`
}

// ParseResult extracts a Result from raw model output. Markdown code fences
// and any text around the outermost JSON object are ignored.
func ParseResult(raw string) (Result, error) {
	body := extractJSON(raw)
	if body == "" {
		return Result{}, fmt.Errorf("no JSON object in response")
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Result{}, fmt.Errorf("decoding response: %w", err)
	}

	deltas := make([]Delta, 0, len(out.Relationships))
	for _, d := range out.Relationships {
		if strings.TrimSpace(d.TargetID) == "" {
			continue
		}
		deltas = append(deltas, d)
	}

	return Result{
		Success:            true,
		Like:               out.Action.Like,
		CommentText:        strings.TrimSpace(out.Action.Comment),
		Thoughts:           strings.TrimSpace(out.Thoughts),
		RelationshipDeltas: deltas,
	}, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
