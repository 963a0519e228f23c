package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/circled/internal/api"
	"github.com/kalambet/circled/internal/config"
	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/relationship"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
)

// --- posts ---

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Read and write the circle feed",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent posts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		author, _ := cmd.Flags().GetString("author")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listPosts(cmd.Context(), client, os.Stdout, limit, author)
	},
}

var postsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a post with its likes and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p posts.Post
		if err := client.getJSON(cmd.Context(), "/posts/"+url.PathEscape(args[0]), &p); err != nil {
			return err
		}
		printPost(os.Stdout, p, time.Now())
		return nil
	},
}

var postsCreateCmd = &cobra.Command{
	Use:   "create <content>",
	Short: "Publish a post as yourself; every actor reacts to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		images, _ := cmd.Flags().GetStringSlice("image")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/posts", api.CreatePostRequest{Content: args[0], Images: images})
		if err != nil {
			return err
		}
		var out api.CreatePostResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Posted %s, %d reactions queued", shortID(out.Post.ID), len(out.Jobs))
		return nil
	},
}

var postsCommentCmd = &cobra.Command{
	Use:   "comment <post-id> <content>",
	Short: "Comment on a post as yourself",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		replyTo, _ := cmd.Flags().GetString("reply-to")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/posts/"+url.PathEscape(args[0])+"/comments",
			api.CreateCommentRequest{Content: args[1], ReplyToCommentID: replyTo})
		if err != nil {
			return err
		}
		var out api.CreateCommentResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Jobs) > 0 {
			printSuccess("Commented %s, reply queued", shortID(out.Comment.ID))
		} else {
			printSuccess("Commented %s", shortID(out.Comment.ID))
		}
		return nil
	},
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/posts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var postsWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Stream updates to a post until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return watchPost(cmd.Context(), client, os.Stdout, args[0])
	},
}

func init() {
	postsListCmd.Flags().Int("limit", 20, "maximum number of posts to list")
	postsListCmd.Flags().String("author", "", "only posts by this author id")
	postsCreateCmd.Flags().StringSlice("image", nil, "image URL to attach (repeatable)")
	postsCommentCmd.Flags().String("reply-to", "", "id of the comment to answer")

	postsCmd.AddCommand(postsListCmd)
	postsCmd.AddCommand(postsShowCmd)
	postsCmd.AddCommand(postsCreateCmd)
	postsCmd.AddCommand(postsCommentCmd)
	postsCmd.AddCommand(postsDeleteCmd)
	postsCmd.AddCommand(postsWatchCmd)
}

func listPosts(ctx context.Context, client *apiClient, w io.Writer, limit int, author string) error {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if author != "" {
		q.Set("author", author)
	}
	var list []posts.Post
	if err := client.getJSON(ctx, "/posts?"+q.Encode(), &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return nil
	}
	now := time.Now()
	for _, p := range list {
		fmt.Fprintf(w, "%s  %-12s %-8s ♥%-3d 💬%-3d %s\n",
			colorize(colorCyan, shortID(p.ID)),
			shorten(p.AuthorName, 12),
			ago(p.CreatedAt, now),
			p.Likes,
			len(p.Comments),
			shorten(strings.ReplaceAll(p.Content, "\n", " "), 60),
		)
	}
	return nil
}

func printPost(w io.Writer, p posts.Post, now time.Time) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, p.AuthorName), colorize(colorDim, ago(p.CreatedAt, now)))
	fmt.Fprintln(w, p.Content)
	for _, img := range p.Images {
		fmt.Fprintf(w, "  [image] %s\n", img)
	}
	if p.Likes > 0 {
		names := make([]string, 0, len(p.LikedBy))
		for _, l := range p.LikedBy {
			names = append(names, l.UserName)
		}
		fmt.Fprintf(w, "♥ %d  %s\n", p.Likes, strings.Join(names, ", "))
	}
	for _, c := range p.Comments {
		who := colorize(colorBlue, c.UserName)
		if c.ReplyTo != nil {
			who += " → " + c.ReplyTo.UserName
		}
		fmt.Fprintf(w, "  %s: %s\n", who, c.Content)
	}
}

// --- actors ---

var actorsCmd = &cobra.Command{
	Use:   "actors",
	Short: "Inspect and direct the roster",
}

var actorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster actors",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var actors []roster.Actor
		if err := client.getJSON(cmd.Context(), "/actors", &actors); err != nil {
			return err
		}
		for _, a := range actors {
			rel := "off"
			if a.RelationshipEnabled {
				rel = "on"
			}
			fmt.Printf("%-12s %-16s tier=%-6s relationships=%-3s times=%s\n",
				colorize(colorCyan, a.ID), a.Name, a.Tier, rel, strings.Join(a.ScheduledTimes, ","))
		}
		return nil
	},
}

var actorsPostCmd = &cobra.Command{
	Use:   "post <actor>",
	Short: "Queue a new post by an actor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		images, _ := cmd.Flags().GetStringSlice("image")
		scheduled, _ := cmd.Flags().GetBool("scheduled")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/actors/"+url.PathEscape(args[0])+"/posts",
			api.SchedulePostRequest{Prompt: prompt, Images: images, Scheduled: scheduled})
		if err != nil {
			return err
		}
		var job scheduler.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Queued post job %s (priority %d)", shortID(job.ID), job.Priority)
		return nil
	},
}

var actorsReactCmd = &cobra.Command{
	Use:   "react <actor> <post-id>",
	Short: "Queue an actor's reaction to a post or comment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		commentID, _ := cmd.Flags().GetString("comment")
		prompt, _ := cmd.Flags().GetString("prompt")
		userDirected, _ := cmd.Flags().GetBool("user-directed")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/actors/"+url.PathEscape(args[0])+"/reactions", api.ScheduleReactionRequest{
			PostID:       args[1],
			CommentID:    commentID,
			Prompt:       prompt,
			UserDirected: userDirected,
		})
		if err != nil {
			return err
		}
		var job scheduler.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Queued reaction job %s (priority %d)", shortID(job.ID), job.Priority)
		return nil
	},
}

var actorsRelationshipsCmd = &cobra.Command{
	Use:   "relationships <actor>",
	Short: "Show an actor's relationship map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		markReviewed, _ := cmd.Flags().GetBool("mark-reviewed")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := showRelationships(cmd.Context(), client, os.Stdout, args[0]); err != nil {
			return err
		}
		if markReviewed {
			resp, err := client.post(cmd.Context(), "/actors/"+url.PathEscape(args[0])+"/relationships/review", nil)
			if err != nil {
				return err
			}
			var out map[string]string
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
			printSuccess("Marked reviewed")
		}
		return nil
	},
}

var actorsMessagesCmd = &cobra.Command{
	Use:   "messages <actor>",
	Short: "Show an actor's message box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unread, _ := cmd.Flags().GetBool("unread")
		markRead, _ := cmd.Flags().GetBool("mark-read")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		base := "/actors/" + url.PathEscape(args[0]) + "/messages"
		path := base
		if unread {
			path += "?unread=true"
		}
		var msgs []relationship.Message
		if err := client.getJSON(cmd.Context(), path, &msgs); err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
		}
		now := time.Now()
		for _, m := range msgs {
			marker := " "
			if !m.Read {
				marker = colorize(colorYellow, "•")
			}
			fmt.Printf("%s %-8s %-12s %-7s %s\n", marker, ago(m.Timestamp, now), m.SenderName, m.Kind, shorten(m.Content, 60))
		}
		if markRead {
			resp, err := client.post(cmd.Context(), base+"/read", nil)
			if err != nil {
				return err
			}
			var out map[string]string
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
		}
		return nil
	},
}

var actorsScheduleCmd = &cobra.Command{
	Use:   "schedule <actor> [HH:MM...]",
	Short: "Show or replace an actor's daily post times",
	Long: `Show or replace an actor's daily post times.

Examples:
  circled actors schedule mika
  circled actors schedule mika 08:30 21:00
  circled actors schedule mika --clear
  circled actors schedule mika --reset`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearAll, _ := cmd.Flags().GetBool("clear")
		reset, _ := cmd.Flags().GetBool("reset")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/actors/" + url.PathEscape(args[0]) + "/schedule"

		var out api.ScheduleRequest
		switch {
		case reset:
			resp, err := client.delete(cmd.Context(), path)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
			printSuccess("Schedule reset to roster defaults")
		case len(args) > 1 || clearAll:
			resp, err := client.put(cmd.Context(), path, api.ScheduleRequest{Times: args[1:]})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &out); err != nil {
				return err
			}
			printSuccess("Schedule saved")
		default:
			if err := client.getJSON(cmd.Context(), path, &out); err != nil {
				return err
			}
		}
		if len(out.Times) == 0 {
			fmt.Println("No scheduled posts.")
			return nil
		}
		fmt.Println(strings.Join(out.Times, " "))
		return nil
	},
}

func init() {
	actorsPostCmd.Flags().String("prompt", "", "topic or instruction for the post")
	actorsPostCmd.Flags().StringSlice("image", nil, "image URL to attach (repeatable)")
	actorsPostCmd.Flags().Bool("scheduled", false, "queue at scheduled-post priority")
	actorsReactCmd.Flags().String("comment", "", "reply to this comment instead of the post")
	actorsReactCmd.Flags().String("prompt", "", "extra instruction for the reaction")
	actorsReactCmd.Flags().Bool("user-directed", true, "queue ahead of autonomous work")
	actorsRelationshipsCmd.Flags().Bool("mark-reviewed", false, "record that the map was reviewed")
	actorsMessagesCmd.Flags().Bool("unread", false, "only unread messages")
	actorsMessagesCmd.Flags().Bool("mark-read", false, "mark every message read after listing")
	actorsScheduleCmd.Flags().Bool("clear", false, "remove every scheduled time")
	actorsScheduleCmd.Flags().Bool("reset", false, "return to the times in the roster file")

	actorsCmd.AddCommand(actorsListCmd)
	actorsCmd.AddCommand(actorsPostCmd)
	actorsCmd.AddCommand(actorsReactCmd)
	actorsCmd.AddCommand(actorsRelationshipsCmd)
	actorsCmd.AddCommand(actorsMessagesCmd)
	actorsCmd.AddCommand(actorsScheduleCmd)
}

func showRelationships(ctx context.Context, client *apiClient, w io.Writer, actorID string) error {
	var rels api.RelationshipsResponse
	if err := client.getJSON(ctx, "/actors/"+url.PathEscape(actorID)+"/relationships", &rels); err != nil {
		return err
	}
	if !rels.Enabled {
		printWarning("relationships are disabled for %s", actorID)
	}
	if len(rels.Items) == 0 {
		fmt.Fprintln(w, "No relationships yet.")
		return nil
	}

	items := make([]relationship.Relationship, 0, len(rels.Items))
	for _, r := range rels.Items {
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Strength != items[j].Strength {
			return items[i].Strength > items[j].Strength
		}
		return items[i].TargetID < items[j].TargetID
	})
	for _, r := range items {
		fmt.Fprintf(w, "%-12s %4d  %-13s %3d interactions  %s\n",
			colorize(colorCyan, r.TargetID), r.Strength, r.Type, r.InteractionCount, shorten(r.Description, 50))
	}
	if rels.NeedsReview {
		fmt.Fprintln(w, colorize(colorYellow, "review due"))
	}
	return nil
}

// --- feed ---

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Export or merge the whole feed",
}

var feedExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every post as a JSON array",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		all, err := exportPosts(cmd.Context(), client)
		if err != nil {
			return err
		}
		if err := printJSON(w, all); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %d posts to %s", len(all), output)
		}
		return nil
	},
}

var feedImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge an exported post list into the feed",
	Long: `Merge an exported post list into the feed.

Posts are matched by id. Comments and likes from both sides are kept;
nothing already stored is removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		var candidates []posts.Post
		if err := json.Unmarshal(data, &candidates); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/posts/sync", candidates)
		if err != nil {
			return err
		}
		var merged []posts.Post
		if err := decodeJSON(resp, &merged); err != nil {
			return err
		}
		printSuccess("Merged %d posts, feed now holds %d", len(candidates), len(merged))
		return nil
	},
}

func init() {
	feedExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	feedCmd.AddCommand(feedExportCmd)
	feedCmd.AddCommand(feedImportCmd)
}

func exportPosts(ctx context.Context, client *apiClient) ([]posts.Post, error) {
	all := []posts.Post{}
	for offset := 0; ; {
		var page []posts.Post
		if err := client.getJSON(ctx, fmt.Sprintf("/posts?limit=100&offset=%d", offset), &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		offset += len(page)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
