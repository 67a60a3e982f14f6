package comments

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Gatekeeper resolves a bearer credential to a principal id.
type Gatekeeper interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// PostLookup reports whether a post exists.
type PostLookup interface {
	Exists(ctx context.Context, postID string) (bool, error)
}

// AuthorDirectory resolves principal ids to display names.
type AuthorDirectory interface {
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Fanout hands an event to the room of a post without waiting for delivery.
type Fanout interface {
	Publish(postID string, event realtime.Event)
}

type ServiceConfig struct {
	Store      *Store
	Gatekeeper Gatekeeper
	Posts      PostLookup
	Authors    AuthorDirectory
	Fanout     Fanout
	Logger     *zap.Logger
}

// Service is the comment write path: validate, persist, publish, acknowledge.
type Service struct {
	store      *Store
	gatekeeper Gatekeeper
	posts      PostLookup
	authors    AuthorDirectory
	fanout     Fanout
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	case cfg.Gatekeeper == nil:
		return nil, newServiceError(opServiceNew, "missing_gatekeeper", errMissingGatekeeper)
	case cfg.Posts == nil:
		return nil, newServiceError(opServiceNew, "missing_posts", errMissingPosts)
	case cfg.Authors == nil:
		return nil, newServiceError(opServiceNew, "missing_authors", errMissingAuthors)
	case cfg.Fanout == nil:
		return nil, newServiceError(opServiceNew, "missing_fanout", errMissingFanout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      cfg.Store,
		gatekeeper: cfg.Gatekeeper,
		posts:      cfg.Posts,
		authors:    cfg.Authors,
		fanout:     cfg.Fanout,
		logger:     logger,
	}, nil
}

// Create validates and persists a comment, then hands a newComment event to the fanout.
// Once the comment is persisted the call succeeds whatever happens to delivery.
func (s *Service) Create(ctx context.Context, request CreateRequest) (View, error) {
	principalID, err := s.gatekeeper.Verify(ctx, request.Credential)
	if err != nil || principalID == "" {
		s.logger.Debug("comment credential rejected", zap.Error(err))
		return View{}, newServiceError(opCreate, "unauthorized", ErrUnauthorized)
	}
	content := strings.TrimSpace(request.Content)
	if content == "" {
		return View{}, newServiceError(opCreate, "invalid_content", ErrInvalidContent)
	}
	postID := strings.TrimSpace(request.PostID)
	exists, err := s.posts.Exists(ctx, postID)
	if err != nil {
		s.logError(opCreate, "post_lookup_failed", err, zap.String("post_id", postID))
		return View{}, newServiceError(opCreate, "post_lookup_failed", errors.Join(ErrPersistence, err))
	}
	if !exists {
		return View{}, newServiceError(opCreate, "post_not_found", ErrPostNotFound)
	}

	comment, err := s.store.Append(ctx, postID, principalID, content)
	if err != nil {
		s.logError(opCreate, "persist_failed", err, zap.String("post_id", postID))
		return View{}, newServiceError(opCreate, "persist_failed", errors.Join(ErrPersistence, err))
	}

	view := newView(comment, s.authorNames(ctx, []string{principalID})[principalID])
	s.publish(view)
	return view, nil
}

// List returns the comments of a post oldest first. Unknown posts have no comments.
func (s *Service) List(ctx context.Context, postID string) ([]View, error) {
	stored, err := s.store.ListByPost(ctx, strings.TrimSpace(postID))
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("post_id", postID))
		return nil, newServiceError(opList, "query_failed", errors.Join(ErrPersistence, err))
	}
	names := s.authorNames(ctx, lo.Map(stored, func(comment Comment, _ int) string {
		return comment.AuthorID
	}))
	return lo.Map(stored, func(comment Comment, _ int) View {
		return newView(comment, names[comment.AuthorID])
	}), nil
}

func (s *Service) publish(view View) {
	event, err := realtime.NewEvent(realtime.EventNewComment, view)
	if err != nil {
		s.logger.Warn("comment event encoding failed", zap.String("comment_id", view.ID), zap.Error(err))
		return
	}
	s.fanout.Publish(view.Post, event)
}

// authorNames never fails; unresolved authors keep an empty name.
func (s *Service) authorNames(ctx context.Context, userIDs []string) map[string]string {
	if len(userIDs) == 0 {
		return map[string]string{}
	}
	names, err := s.authors.DisplayNames(ctx, userIDs)
	if err != nil {
		s.logger.Warn("author name resolution failed", zap.Strings("author_ids", lo.Uniq(userIDs)), zap.Error(err))
		return map[string]string{}
	}
	return names
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("comments service error", attrs...)
}
