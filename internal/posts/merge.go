package posts

import (
	"strings"
	"time"
)

// Merge combines durable and candidates into one list keyed by post id.
// Durable posts keep their order; posts only present in candidates follow in
// candidate order.
//
// For an id present on both sides the comment lists are unioned by comment
// id, so no durable comment is ever dropped; comments without an id are
// compared by author, content and time. The remaining fields come from
// the side that had more comments before the union; on a tie the candidate
// wins, being the newer write. Likes are unioned by user id and the like
// count never decreases.
func Merge(durable, candidates []Post) []Post {
	out := make([]Post, 0, len(durable)+len(candidates))
	index := make(map[string]int, len(durable)+len(candidates))

	for _, p := range durable {
		if p.ID == "" {
			continue
		}
		if i, ok := index[p.ID]; ok {
			out[i] = mergePost(out[i], p)
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p.clone())
	}

	for _, p := range candidates {
		if p.ID == "" {
			continue
		}
		if i, ok := index[p.ID]; ok {
			out[i] = mergePost(out[i], p)
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p.clone())
	}
	return out
}

func mergePost(durable, candidate Post) Post {
	shape := candidate
	if len(durable.Comments) > len(candidate.Comments) {
		shape = durable
	}
	merged := shape.clone()

	merged.Comments = unionComments(durable.Comments, candidate.Comments)
	merged.LikedBy = unionLikes(durable.LikedBy, candidate.LikedBy)
	merged.Likes = max(durable.Likes, candidate.Likes, len(merged.LikedBy))
	return merged
}

// unionComments keeps every comment of a, then the comments of b not
// already present. Comments without an id are matched by content instead, so
// the same anonymous comment on both sides appears once and distinct ones
// are all kept.
func unionComments(a, b []Comment) []Comment {
	out := make([]Comment, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	anon := make(map[string]int)
	for _, c := range a {
		if c.ID == "" {
			anon[fingerprint(c)]++
			out = append(out, c)
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	for _, c := range b {
		if c.ID == "" {
			if fp := fingerprint(c); anon[fp] > 0 {
				anon[fp]--
				continue
			}
			out = append(out, c)
			continue
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func fingerprint(c Comment) string {
	return strings.Join([]string{c.UserID, c.Content, string(c.Kind), c.CreatedAt.UTC().Format(time.RFC3339Nano)}, "\x00")
}

func unionLikes(a, b []Like) []Like {
	out := make([]Like, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]Like{a, b} {
		for _, l := range list {
			if _, ok := seen[l.UserID]; ok {
				continue
			}
			seen[l.UserID] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}
