// Package sqlstore keeps topics and comments in a relational database
// through gorm. Optimistic concurrency comes from a version column: an
// update only applies if the row still carries the version that was read.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"forum/internal/models"
	"forum/internal/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Store struct {
	db       *gorm.DB
	notifier store.Notifier
	ownHub   *store.Hub
	clock    *store.Clock
	logger   *zap.Logger
}

var _ store.Adapter = (*Store)(nil)

// New wraps db. A nil notifier falls back to an in-process hub, which only
// sees writes made by this process.
func New(db *gorm.DB, notifier store.Notifier, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.L()
	}
	s := &Store{db: db, notifier: notifier, clock: store.NewClock(), logger: logger}
	if notifier == nil {
		s.ownHub = store.NewHub()
		s.notifier = s.ownHub
	}
	return s
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&models.Topic{}, &models.Comment{})
}

func (s *Store) Close() error {
	if s.ownHub != nil {
		s.ownHub.Close()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	t := &tx{clock: s.clock, touched: make(map[string]struct{})}
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		t.db = gtx
		return fn(t)
	})
	if err != nil {
		return err
	}
	for topicID := range t.touched {
		if err := s.notifier.Publish(ctx, topicID); err != nil {
			s.logger.Warn("change notification failed", zap.String("topic_id", topicID), zap.Error(err))
		}
	}
	return nil
}

func (s *Store) SubscribeComments(ctx context.Context, topicID string) (<-chan store.SnapshotEvent, error) {
	signals, err := s.notifier.Listen(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("listen for topic %s: %w", topicID, err)
	}
	return store.Feed(ctx, signals, func(ctx context.Context) ([]models.Comment, error) {
		return loadComments(s.db.WithContext(ctx), topicID)
	}), nil
}

func (s *Store) ListTopics(ctx context.Context, q models.TopicQuery) ([]models.Topic, error) {
	query := s.db.WithContext(ctx).Model(&models.Topic{})
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.AuthorID != "" {
		query = query.Where("author_id = ?", q.AuthorID)
	}
	topics := make([]models.Topic, 0)
	if err := query.Order("created_at DESC").Order("id DESC").Find(&topics).Error; err != nil {
		return nil, err
	}
	return topics, nil
}

func loadComments(db *gorm.DB, topicID string) ([]models.Comment, error) {
	cs := make([]models.Comment, 0)
	if err := db.Where("topic_id = ?", topicID).Find(&cs).Error; err != nil {
		return nil, err
	}
	return cs, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
