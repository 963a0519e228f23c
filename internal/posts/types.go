package posts

import "time"

// CommentKind tells human comments apart from actor comments.
type CommentKind string

const (
	CommentUser      CommentKind = "user"
	CommentCharacter CommentKind = "character"
)

// ReplyTo identifies the user a comment answers.
type ReplyTo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type Comment struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
	ReplyTo   *ReplyTo    `json:"replyTo,omitempty"`
	Kind      CommentKind `json:"type"`
}

type Like struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	IsCharacter bool      `json:"isCharacter"`
	CreatedAt   time.Time `json:"createdAt"`
	Thoughts    string    `json:"thoughts,omitempty"`
}

// Post is one entry of the circle feed.
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"characterId"`
	AuthorName   string    `json:"characterName"`
	AuthorAvatar string    `json:"characterAvatar,omitempty"`
	Content      string    `json:"content"`
	Images       []string  `json:"images,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Comments     []Comment `json:"comments"`
	Likes        int       `json:"likes"`
	LikedBy      []Like    `json:"likedBy"`
}

// FindComment returns the comment with the given id.
func (p *Post) FindComment(id string) (Comment, bool) {
	for _, c := range p.Comments {
		if c.ID == id {
			return c, true
		}
	}
	return Comment{}, false
}

// AddLike records a like from l.UserID. It reports false when that user
// already liked the post.
func (p *Post) AddLike(l Like) bool {
	for _, existing := range p.LikedBy {
		if existing.UserID == l.UserID {
			return false
		}
	}
	p.LikedBy = append(p.LikedBy, l)
	p.Likes++
	return true
}

// AddComment appends c unless a comment with the same id is present.
func (p *Post) AddComment(c Comment) bool {
	if _, ok := p.FindComment(c.ID); ok {
		return false
	}
	p.Comments = append(p.Comments, c)
	return true
}

func (p Post) clone() Post {
	out := p
	out.Images = append([]string(nil), p.Images...)
	out.Comments = append([]Comment(nil), p.Comments...)
	out.LikedBy = append([]Like(nil), p.LikedBy...)
	return out
}
