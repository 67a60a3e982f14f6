package posts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	prefix string
	next   int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("%s%d", s.prefix, s.next), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Post{}); err != nil {
		t.Fatalf("failed to migrate post schema: %v", err)
	}
	clockValue := time.Unix(1700000000, 0)
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &sequentialIDs{prefix: "p"},
		Clock: func() time.Time {
			clockValue = clockValue.Add(time.Second)
			return clockValue
		},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, db
}

func stringPointer(value string) *string {
	return &value
}

func TestCreateRequiresTitleAndContent(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.Create(context.Background(), CreateRequest{AuthorID: "u1", Title: " ", Content: "body"})
	if !errors.Is(err, ErrInvalidPost) {
		t.Fatalf("expected invalid post, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "posts.create.invalid_post" {
		t.Fatalf("unexpected service error %v", err)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	for _, title := range []string{"first", "second"} {
		if _, err := service.Create(ctx, CreateRequest{AuthorID: "u1", Title: title, Content: "body"}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	posts, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(posts) != 2 || posts[0].Title != "second" || posts[1].Title != "first" {
		t.Fatalf("unexpected order %#v", posts)
	}
}

func TestUpdateEnforcesOwnership(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()
	post, err := service.Create(ctx, CreateRequest{AuthorID: "author", Title: "Original", Content: "Body"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	testCases := []struct {
		name      string
		principal string
		postID    string
		request   UpdateRequest
		want      error
	}{
		{
			name:      "missing-post-for-author",
			principal: "author",
			postID:    "missing",
			request:   UpdateRequest{Title: stringPointer("New")},
			want:      ErrPostNotFound,
		},
		{
			name:      "missing-post-for-stranger",
			principal: "stranger",
			postID:    "missing",
			request:   UpdateRequest{Title: stringPointer("New")},
			want:      ErrPostNotFound,
		},
		{
			name:      "stranger-with-valid-payload",
			principal: "stranger",
			postID:    post.PostID,
			request:   UpdateRequest{Title: stringPointer("Hijacked")},
			want:      ErrForbidden,
		},
		{
			name:      "stranger-with-invalid-payload",
			principal: "stranger",
			postID:    post.PostID,
			request:   UpdateRequest{Title: stringPointer(" ")},
			want:      ErrForbidden,
		},
		{
			name:      "author-with-invalid-payload",
			principal: "author",
			postID:    post.PostID,
			request:   UpdateRequest{Content: stringPointer("")},
			want:      ErrInvalidPost,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Update(ctx, testCase.principal, testCase.postID, testCase.request)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}

	var stored Post
	if err := db.Where("post_id = ?", post.PostID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload post: %v", err)
	}
	if stored.Title != "Original" || stored.Content != "Body" {
		t.Fatalf("expected post to be unchanged, got %#v", stored)
	}

	updated, err := service.Update(ctx, "author", post.PostID, UpdateRequest{Title: stringPointer("Edited")})
	if err != nil {
		t.Fatalf("author update failed: %v", err)
	}
	if updated.Title != "Edited" || updated.Content != "Body" {
		t.Fatalf("unexpected updated post %#v", updated)
	}
	if updated.UpdatedAtMillis <= post.UpdatedAtMillis {
		t.Fatalf("expected updated timestamp to advance")
	}
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	post, err := service.Create(ctx, CreateRequest{AuthorID: "author", Title: "Title", Content: "Body"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := service.Delete(ctx, "stranger", post.PostID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if exists, err := service.Exists(ctx, post.PostID); err != nil || !exists {
		t.Fatalf("expected post to survive forbidden delete, exists=%v err=%v", exists, err)
	}
	if err := service.Delete(ctx, "anyone", "missing"); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := service.Delete(ctx, "author", post.PostID); err != nil {
		t.Fatalf("author delete failed: %v", err)
	}
	if _, err := service.Get(ctx, post.PostID); !errors.Is(err, ErrPostNotFound) {
		t.Fatalf("expected deleted post to be gone, got %v", err)
	}
}
