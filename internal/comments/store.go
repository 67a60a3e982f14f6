package comments

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"gorm.io/gorm"
)

const lockStripes = 64

// IDProvider issues comment identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Store is the append-only Comment Store. Per post, timestamps never decrease and the
// sequence increases by one with every append, so reads always see commit order.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	stripes    [lockStripes]sync.Mutex
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
	}, nil
}

// Append persists a new comment for postID.
func (s *Store) Append(ctx context.Context, postID, authorID, content string) (Comment, error) {
	commentID, err := s.idProvider.NewID()
	if err != nil {
		return Comment{}, newServiceError(opAppend, "id_generation_failed", err)
	}

	lock := s.lockFor(postID)
	lock.Lock()
	defer lock.Unlock()

	var created Comment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last Comment
		lastSequence, lastMillis := int64(0), int64(0)
		err := tx.Where("post_id = ?", postID).Order("sequence DESC").Take(&last).Error
		switch {
		case err == nil:
			lastSequence, lastMillis = last.Sequence, last.CreatedAtMillis
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		createdAt := s.clock().UTC().UnixMilli()
		if createdAt < lastMillis {
			createdAt = lastMillis
		}
		created = Comment{
			CommentID:       commentID,
			PostID:          postID,
			Sequence:        lastSequence + 1,
			AuthorID:        authorID,
			Content:         content,
			CreatedAtMillis: createdAt,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return Comment{}, newServiceError(opAppend, "insert_failed", err)
	}
	return created, nil
}

// ListByPost returns the comments of a post in persisted order.
func (s *Store) ListByPost(ctx context.Context, postID string) ([]Comment, error) {
	var comments []Comment
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at_ms ASC").
		Order("sequence ASC").
		Find(&comments).Error
	if err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return comments, nil
}

func (s *Store) lockFor(postID string) *sync.Mutex {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(postID))
	return &s.stripes[hasher.Sum32()%lockStripes]
}
