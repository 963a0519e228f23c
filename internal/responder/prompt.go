package responder

import (
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/circled/internal/relationship"
)

const systemPromptTemplate = `You are %s, a character on a small social feed called the circle. Stay in character at all times.

[Persona]
%s

Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.`

const postInstructions = `Write a new post for the circle in your own voice. Keep it under 280 characters.

Respond with:
{"action": {"like": false, "comment": "<the post text>"}, "thoughts": "<what you were thinking>"}`

const interactionInstructions = `Decide how to react. You may like the post, write a comment, both, or neither.

Respond with:
{"action": {"like": <true|false>, "comment": "<comment text or empty>"}, "thoughts": "<what you were thinking>", "relationships": [{"targetId": "<id>", "strengthDelta": <-5..5>, "newType": "<optional relationship type>"}]}`

const replyInstructions = `Reply to the comment in your own voice. Keep it short.

Respond with:
{"action": {"like": false, "comment": "<reply text>"}, "thoughts": "<what you were thinking>", "relationships": [{"targetId": "<id>", "strengthDelta": <-5..5>, "newType": "<optional relationship type>"}]}`

// BuildMessages constructs the chat messages for req.
func BuildMessages(req Request) []openai.ChatCompletionMessage {
	system := fmt.Sprintf(systemPromptTemplate, req.Actor.Name, strings.TrimSpace(req.Actor.Persona))
	if rels := formatRelationships(req.Relationships); rels != "" {
		system += "\n\n[Relationships]\n" + rels
	}

	var sb strings.Builder
	switch {
	case req.Kind == KindPost:
		sb.WriteString(postInstructions)
	case req.Comment != nil:
		writePost(&sb, req)
		fmt.Fprintf(&sb, "\n\n[Comment by %s (%s)]\n%s\n\n", req.Comment.UserName, req.Comment.UserID, req.Comment.Content)
		sb.WriteString(replyInstructions)
	default:
		writePost(&sb, req)
		sb.WriteString("\n\n")
		sb.WriteString(interactionInstructions)
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		fmt.Fprintf(&sb, "\n\n[Hint]\n%s", p)
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		user.Content = sb.String()
	} else {
		user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: sb.String(),
		})
		for _, img := range req.Images {
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img},
			})
		}
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		user,
	}
}

func writePost(sb *strings.Builder, req Request) {
	if req.Post == nil {
		return
	}
	if req.Post.AuthorID == req.Actor.ID {
		fmt.Fprintf(sb, "[Your post]\n%s", req.Post.Content)
	} else {
		fmt.Fprintf(sb, "[Post by %s (%s)]\n%s", req.Post.AuthorName, req.Post.AuthorID, req.Post.Content)
	}
	if n := len(req.Post.Comments); n > 0 {
		fmt.Fprintf(sb, "\n(%d comments, %d likes)", n, req.Post.Likes)
	}
}

func formatRelationships(rels map[string]relationship.Relationship) string {
	if len(rels) == 0 {
		return ""
	}
	ids := make([]string, 0, len(rels))
	for id := range rels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		r := rels[id]
		fmt.Fprintf(&sb, "- %s: %s (strength %d)\n", id, r.Type, r.Strength)
	}
	return strings.TrimRight(sb.String(), "\n")
}
