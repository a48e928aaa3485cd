package committee

import "time"

// MaxCommentLength is the content limit in characters
const MaxCommentLength = 2000

// Comment is a note left on a review
type Comment struct {
	ID         string     `json:"id"`
	ReviewID   string     `json:"review_id"`
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	IsEdited   bool       `json:"is_edited"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
