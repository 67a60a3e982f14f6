package posts

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// IDProvider issues identifiers for new posts.
type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the Post Store: CRUD plus the author-only mutation policy.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a new post authored by the request's principal.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Post, error) {
	title := strings.TrimSpace(request.Title)
	content := strings.TrimSpace(request.Content)
	if title == "" || content == "" {
		return Post{}, newServiceError(opCreate, "invalid_post", ErrInvalidPost)
	}
	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Post{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC().UnixMilli()
	post := Post{
		PostID:          postID,
		AuthorID:        request.AuthorID,
		Title:           title,
		Content:         content,
		CreatedAtMillis: now,
		UpdatedAtMillis: now,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("author_id", request.AuthorID))
		return Post{}, newServiceError(opCreate, "insert_failed", err)
	}
	return post, nil
}

// Get loads one post.
func (s *Service) Get(ctx context.Context, postID string) (Post, error) {
	post, err := s.load(ctx, s.db, postID)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return Post{}, newServiceError(opGet, "not_found", err)
		}
		s.logError(opGet, "query_failed", err, zap.String("post_id", postID))
		return Post{}, newServiceError(opGet, "query_failed", err)
	}
	return post, nil
}

// Exists reports whether a post with the id is stored.
func (s *Service) Exists(ctx context.Context, postID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Post{}).Where("post_id = ?", postID).Count(&count).Error; err != nil {
		s.logError(opGet, "exists_failed", err, zap.String("post_id", postID))
		return false, newServiceError(opGet, "exists_failed", err)
	}
	return count > 0, nil
}

// List returns every post, newest first.
func (s *Service) List(ctx context.Context) ([]Post, error) {
	var posts []Post
	if err := s.db.WithContext(ctx).Order("created_at_ms DESC").Find(&posts).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return posts, nil
}

// Update applies a partial update. NotFound wins over Forbidden, and Forbidden wins over
// an invalid payload.
func (s *Service) Update(ctx context.Context, principalID, postID string, request UpdateRequest) (Post, error) {
	var updated Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := s.authorize(ctx, tx, principalID, postID)
		if err != nil {
			return err
		}
		if request.Title != nil {
			post.Title = strings.TrimSpace(*request.Title)
		}
		if request.Content != nil {
			post.Content = strings.TrimSpace(*request.Content)
		}
		if post.Title == "" || post.Content == "" {
			return ErrInvalidPost
		}
		post.UpdatedAtMillis = s.clock().UTC().UnixMilli()
		if err := tx.Save(&post).Error; err != nil {
			return err
		}
		updated = post
		return nil
	})
	if err != nil {
		return Post{}, s.wrapMutationError(opUpdate, principalID, postID, err)
	}
	return updated, nil
}

// Delete removes a post owned by the principal.
func (s *Service) Delete(ctx context.Context, principalID, postID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.authorize(ctx, tx, principalID, postID); err != nil {
			return err
		}
		return tx.Where("post_id = ?", postID).Delete(&Post{}).Error
	})
	if err != nil {
		return s.wrapMutationError(opDelete, principalID, postID, err)
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, tx *gorm.DB, principalID, postID string) (Post, error) {
	post, err := s.load(ctx, tx, postID)
	if err != nil {
		return Post{}, err
	}
	if principalID == "" || post.AuthorID != principalID {
		return Post{}, ErrForbidden
	}
	return post, nil
}

func (s *Service) load(ctx context.Context, db *gorm.DB, postID string) (Post, error) {
	var post Post
	err := db.WithContext(ctx).Where("post_id = ?", strings.TrimSpace(postID)).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, ErrPostNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

func (s *Service) wrapMutationError(operation, principalID, postID string, err error) error {
	switch {
	case errors.Is(err, ErrPostNotFound):
		return newServiceError(operation, "not_found", err)
	case errors.Is(err, ErrForbidden):
		s.loggerOrDefault().Info("post mutation forbidden",
			zap.String("operation", operation),
			zap.String("principal_id", principalID),
			zap.String("post_id", postID))
		return newServiceError(operation, "forbidden", err)
	case errors.Is(err, ErrInvalidPost):
		return newServiceError(operation, "invalid_post", err)
	default:
		s.logError(operation, "write_failed", err, zap.String("post_id", postID))
		return newServiceError(operation, "write_failed", err)
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("posts service error", attrs...)
}
