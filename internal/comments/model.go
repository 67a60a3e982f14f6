package comments

import "time"

// Comment is one persisted comment. Rows are written once and never updated.
type Comment struct {
	CommentID       string `gorm:"column:comment_id;primaryKey;size:190"`
	PostID          string `gorm:"column:post_id;size:190;not null;index:idx_comments_post_order,priority:1"`
	Sequence        int64  `gorm:"column:sequence;not null;index:idx_comments_post_order,priority:2"`
	AuthorID        string `gorm:"column:author_id;size:190;not null"`
	Content         string `gorm:"column:content;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

func (Comment) TableName() string {
	return "comments"
}

// Author is the resolved author of a comment as clients see it.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// View is the wire representation of a comment, shared by responses and newComment events.
type View struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Author    Author    `json:"author"`
	Post      string    `json:"post"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateRequest is a raw comment submission as received from a client.
type CreateRequest struct {
	PostID     string
	Content    string
	Credential string
}

func newView(comment Comment, authorName string) View {
	return View{
		ID:      comment.CommentID,
		Content: comment.Content,
		Author: Author{
			ID:   comment.AuthorID,
			Name: authorName,
		},
		Post:      comment.PostID,
		CreatedAt: time.UnixMilli(comment.CreatedAtMillis).UTC(),
	}
}
