package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/circled/internal/api"
)

// watchPost prints the post once, then a line per like or comment until
// ctx is cancelled or the server closes the stream.
func watchPost(ctx context.Context, client *apiClient, w io.Writer, postID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(client.baseURL, "http") + "/posts/" + url.PathEscape(postID) + "/stream"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+client.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return decodeJSON(resp, &struct{}{})
		}
		return fmt.Errorf("server not reachable, is circled running? (%w)", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	var (
		likes    int
		comments int
	)
	for {
		var ev api.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}

		p := ev.Post
		switch ev.Type {
		case api.EventPostSnapshot:
			printPost(w, p, time.Now())
		case api.EventPostUpdated:
			for _, l := range p.LikedBy[min(likes, len(p.LikedBy)):] {
				fmt.Fprintf(w, "%s liked it\n", colorize(colorBlue, l.UserName))
			}
			for _, c := range p.Comments[min(comments, len(p.Comments)):] {
				fmt.Fprintf(w, "%s: %s\n", colorize(colorBlue, c.UserName), c.Content)
			}
		}
		likes, comments = len(p.LikedBy), len(p.Comments)
	}
}
