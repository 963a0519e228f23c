package posts

import (
	"encoding/json"
	"reflect"
)

// fields maps JSON keys to decode targets.
type fields map[string]any

// decode unmarshals each present key of obj into its target. A target whose
// value does not fit is reset to its zero value. Reports whether every
// present field decoded.
func (f fields) decode(obj map[string]json.RawMessage) bool {
	clean := true
	for key, target := range f {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			reflect.ValueOf(target).Elem().SetZero()
			clean = false
		}
	}
	return clean
}

// decodePost decodes one stored entry field by field. ok is false only when
// the entry is not an object or has no non-empty string id; clean is false
// when some field or nested item had to be discarded.
func decodePost(raw json.RawMessage) (p Post, ok, clean bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return Post{}, false, false
	}
	idRaw, found := obj["id"]
	if !found || json.Unmarshal(idRaw, &p.ID) != nil || p.ID == "" {
		return Post{}, false, false
	}

	clean = fields{
		"characterId":     &p.AuthorID,
		"characterName":   &p.AuthorName,
		"characterAvatar": &p.AuthorAvatar,
		"content":         &p.Content,
		"images":          &p.Images,
		"createdAt":       &p.CreatedAt,
		"likes":           &p.Likes,
	}.decode(obj)

	var commentsClean, likesClean bool
	p.Comments, commentsClean = decodeList(obj["comments"], decodeComment)
	p.LikedBy, likesClean = decodeList(obj["likedBy"], decodeLike)
	return p, true, clean && commentsClean && likesClean
}

// decodeList decodes a JSON array item by item. Items that are not objects
// are skipped; a value that is not an array yields nil.
func decodeList[T any](raw json.RawMessage, item func(map[string]json.RawMessage) (T, bool)) ([]T, bool) {
	if raw == nil || string(raw) == "null" {
		return nil, true
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}
	out := make([]T, 0, len(entries))
	clean := true
	for _, e := range entries {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(e, &obj); err != nil || obj == nil {
			clean = false
			continue
		}
		v, ok := item(obj)
		clean = clean && ok
		out = append(out, v)
	}
	return out, clean
}

func decodeComment(obj map[string]json.RawMessage) (Comment, bool) {
	var c Comment
	ok := fields{
		"id":        &c.ID,
		"userId":    &c.UserID,
		"userName":  &c.UserName,
		"content":   &c.Content,
		"createdAt": &c.CreatedAt,
		"replyTo":   &c.ReplyTo,
		"type":      &c.Kind,
	}.decode(obj)
	return c, ok
}

func decodeLike(obj map[string]json.RawMessage) (Like, bool) {
	var l Like
	ok := fields{
		"userId":      &l.UserID,
		"userName":    &l.UserName,
		"isCharacter": &l.IsCharacter,
		"createdAt":   &l.CreatedAt,
		"thoughts":    &l.Thoughts,
	}.decode(obj)
	return l, ok
}
