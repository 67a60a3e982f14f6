package posts

// Post is a published article. Only its author may change or remove it.
type Post struct {
	PostID          string `gorm:"column:post_id;primaryKey;size:64;not null"`
	AuthorID        string `gorm:"column:author_id;size:64;not null;index"`
	Title           string `gorm:"column:title;size:256;not null"`
	Content         string `gorm:"column:content;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// CreateRequest carries the fields of a new post.
type CreateRequest struct {
	AuthorID string
	Title    string
	Content  string
}

// UpdateRequest carries a partial update; nil fields keep their stored value.
type UpdateRequest struct {
	Title   *string
	Content *string
}
