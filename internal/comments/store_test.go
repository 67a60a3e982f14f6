package comments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	prefix string
	next   atomic.Int64
}

func (s *sequentialIDs) NewID() (string, error) {
	return fmt.Sprintf("%s%d", s.prefix, s.next.Add(1)), nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Comment{}); err != nil {
		t.Fatalf("failed to migrate comment schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, clock func() time.Time) (*Store, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	store, err := NewStore(StoreConfig{
		Database:   db,
		IDProvider: &sequentialIDs{prefix: "c"},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, db
}

func TestAppendAssignsIDsAndSequence(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	store, _ := newTestStore(t, func() time.Time { return fixed })
	ctx := context.Background()

	first, err := store.Append(ctx, "42", "u2", "Nice post!")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	second, err := store.Append(ctx, "42", "u3", "Agreed")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	other, err := store.Append(ctx, "43", "u2", "Elsewhere")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if first.CommentID != "c1" || second.CommentID != "c2" {
		t.Fatalf("unexpected ids %q, %q", first.CommentID, second.CommentID)
	}
	if first.Sequence != 1 || second.Sequence != 2 || other.Sequence != 1 {
		t.Fatalf("unexpected sequences %d, %d, %d", first.Sequence, second.Sequence, other.Sequence)
	}
	if first.CreatedAtMillis != fixed.UnixMilli() {
		t.Fatalf("unexpected timestamp %d", first.CreatedAtMillis)
	}
}

func TestAppendNeverMovesTimestampsBackwards(t *testing.T) {
	times := []time.Time{
		time.UnixMilli(1700000005000),
		time.UnixMilli(1700000001000),
		time.UnixMilli(1700000009000),
	}
	var calls int
	store, _ := newTestStore(t, func() time.Time {
		value := times[calls%len(times)]
		calls++
		return value
	})
	ctx := context.Background()

	var stamps []int64
	for i := 0; i < len(times); i++ {
		comment, err := store.Append(ctx, "42", "u1", fmt.Sprintf("comment %d", i))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		stamps = append(stamps, comment.CreatedAtMillis)
	}

	want := []int64{1700000005000, 1700000005000, 1700000009000}
	for i := range want {
		if stamps[i] != want[i] {
			t.Fatalf("timestamp %d = %d, want %d", i, stamps[i], want[i])
		}
	}

	listed, err := store.ListByPost(ctx, "42")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for i, comment := range listed {
		if comment.Sequence != int64(i+1) {
			t.Fatalf("listed comment %d has sequence %d", i, comment.Sequence)
		}
	}
}

func TestConcurrentAppendsListInCommitOrder(t *testing.T) {
	store, _ := newTestStore(t, time.Now)
	ctx := context.Background()

	const writers = 24
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			if _, err := store.Append(ctx, "42", "u1", fmt.Sprintf("comment %d", index)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	listed, err := store.ListByPost(ctx, "42")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != writers {
		t.Fatalf("expected %d comments, got %d", writers, len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].CreatedAtMillis < listed[i-1].CreatedAtMillis {
			t.Fatalf("timestamps decreased at %d", i)
		}
		if listed[i].Sequence != listed[i-1].Sequence+1 {
			t.Fatalf("sequence gap at %d: %d after %d", i, listed[i].Sequence, listed[i-1].Sequence)
		}
	}
}

func TestListByPostUnknownPostIsEmpty(t *testing.T) {
	store, _ := newTestStore(t, time.Now)
	listed, err := store.ListByPost(context.Background(), "missing")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no comments, got %d", len(listed))
	}
}

func TestNewStoreValidatesConfig(t *testing.T) {
	if _, err := NewStore(StoreConfig{IDProvider: &sequentialIDs{}}); err == nil {
		t.Fatalf("expected missing database error")
	}
	if _, err := NewStore(StoreConfig{Database: &gorm.DB{}}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
}
