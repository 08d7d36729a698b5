// Package topic handles the topic lifecycle: creation, listing, editing
// and the cascading delete.
package topic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"forum/internal/errs"
	"forum/internal/models"
	"forum/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultCascadeBatchSize = 100
	DefaultCacheTTL         = 5 * time.Minute
	MaxTitleLength          = 200
)

// Cache is the subset of the Redis cache the service uses. Every error is
// treated as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithRandomTTL(ctx context.Context, key string, value interface{}, baseTTL time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ClearCacheByPattern(ctx context.Context, pattern string) error
}

type Repository interface {
	store.Transactor
	store.TopicLister
}

type Service struct {
	store       Repository
	cache       Cache
	cacheTTL    time.Duration
	batchSize   int
	maxAttempts int
	logger      *zap.Logger
}

type Config struct {
	CascadeBatchSize int
	CacheTTL         time.Duration
	MaxAttempts      int
}

// NewService builds the service. cache may be nil.
func NewService(repo Repository, cache Cache, cfg Config) *Service {
	s := &Service{
		store:       repo,
		cache:       cache,
		cacheTTL:    cfg.CacheTTL,
		batchSize:   cfg.CascadeBatchSize,
		maxAttempts: cfg.MaxAttempts,
		logger:      zap.L().Named("topic"),
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = DefaultCacheTTL
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultCascadeBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	return s
}

func topicKey(id string) string { return "topic:" + id }

func listKey(q models.TopicQuery) string {
	return fmt.Sprintf("topics:list:%s:%s", q.Category, q.AuthorID)
}

func cleanTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errs.Invalid("title is empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", errs.Invalid("title exceeds %d characters", MaxTitleLength)
	}
	return title, nil
}

func (s *Service) Create(ctx context.Context, actor models.Actor, title, body string, category models.Category) (*models.Topic, error) {
	if actor.UserID == "" {
		return nil, errs.ErrPermissionDenied
	}
	title, err := cleanTitle(title)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseCategory(string(category)); err != nil {
		return nil, errs.Invalid("%v", err)
	}

	var topic *models.Topic
	_, err = store.WithRetry(ctx, s.store, s.maxAttempts, func(tx store.Tx) error {
		topic = &models.Topic{
			AuthorID: actor.UserID,
			Title:    title,
			Body:     strings.TrimSpace(body),
			Category: category,
		}
		return tx.SaveTopic(topic)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateLists(ctx)
	s.logger.Info("topic created", zap.String("topic_id", topic.ID), zap.String("category", string(category)))
	return topic, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Topic, error) {
	var topic models.Topic
	if s.readCache(ctx, topicKey(id), &topic) {
		return &topic, nil
	}

	var out *models.Topic
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Topic(id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, topicKey(id), out)
	return out, nil
}

// List returns topics newest first, optionally narrowed to a category or an
// author.
func (s *Service) List(ctx context.Context, q models.TopicQuery) ([]models.Topic, error) {
	if q.Category != "" {
		if _, err := models.ParseCategory(string(q.Category)); err != nil {
			return nil, errs.Invalid("%v", err)
		}
	}
	var topics []models.Topic
	if s.readCache(ctx, listKey(q), &topics) {
		return topics, nil
	}
	topics, err := s.store.ListTopics(ctx, q)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, listKey(q), topics)
	return topics, nil
}

func (s *Service) Edit(ctx context.Context, actor models.Actor, id string, patch models.TopicPatch) (*models.Topic, error) {
	if actor.UserID == "" {
		return nil, errs.ErrPermissionDenied
	}
	if patch.Title != nil {
		title, err := cleanTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.Category != nil {
		if _, err := models.ParseCategory(string(*patch.Category)); err != nil {
			return nil, errs.Invalid("%v", err)
		}
	}

	var out *models.Topic
	_, err := store.WithRetry(ctx, s.store, s.maxAttempts, func(tx store.Tx) error {
		topic, err := tx.Topic(id)
		if err != nil {
			return err
		}
		if !actor.CanModify(topic.AuthorID) {
			return errs.ErrForbidden
		}
		if patch.Title != nil {
			topic.Title = *patch.Title
		}
		if patch.Body != nil {
			topic.Body = strings.TrimSpace(*patch.Body)
		}
		if patch.Category != nil {
			topic.Category = *patch.Category
		}
		if err := tx.SaveTopic(topic); err != nil {
			return err
		}
		out = topic
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, id)
	return out, nil
}

// Delete removes the topic and every comment under it. The store does not
// cascade, so comments go in batches of one transaction each; the topic
// itself is removed in the transaction that finds no comments left.
// It returns the number of comments removed.
func (s *Service) Delete(ctx context.Context, actor models.Actor, id string) (int, error) {
	if actor.UserID == "" {
		return 0, errs.ErrPermissionDenied
	}
	topic, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !actor.CanModify(topic.AuthorID) {
		return 0, errs.ErrForbidden
	}

	removed := 0
	for done := false; !done; {
		var batch int
		_, err := store.WithRetry(ctx, s.store, s.maxAttempts, func(tx store.Tx) error {
			batch, done = 0, false
			// The final delete checks this version, so a reply committed
			// meanwhile conflicts instead of landing under a deleted topic.
			current, err := tx.Topic(id)
			if err != nil {
				return err
			}
			comments, err := tx.Comments(id)
			if err != nil {
				return err
			}
			if len(comments) == 0 {
				done = true
				return tx.DeleteTopic(current)
			}
			if len(comments) > s.batchSize {
				comments = comments[:s.batchSize]
			}
			for _, c := range comments {
				if err := tx.DeleteComment(id, c.ID); err != nil {
					return err
				}
			}
			batch = len(comments)
			return nil
		})
		if errors.Is(err, store.ErrNotFound) {
			// someone else finished the delete
			break
		}
		if err != nil {
			return removed, fmt.Errorf("delete topic %s after %d comments: %w", id, removed, err)
		}
		removed += batch
	}

	s.Invalidate(ctx, id)
	s.logger.Info("topic deleted", zap.String("topic_id", id), zap.Int("comments", removed))
	return removed, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Topic, error) {
	var topic *models.Topic
	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		var err error
		topic, err = tx.Topic(id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.ErrNotFound
	}
	return topic, err
}

// Invalidate drops cached copies of the topic and every cached listing.
// Writers outside this service (reactions, comments) call it too, since
// they change counters shown in both.
func (s *Service) Invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, topicKey(id)); err != nil {
		s.logger.Warn("cache delete failed", zap.String("topic_id", id), zap.Error(err))
	}
	s.invalidateLists(ctx)
}

func (s *Service) invalidateLists(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ClearCacheByPattern(ctx, "topics:list:*"); err != nil {
		s.logger.Warn("cache clear failed", zap.Error(err))
	}
}

func (s *Service) readCache(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Del(ctx, key)
		return false
	}
	return true
}

func (s *Service) writeCache(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.SetWithRandomTTL(ctx, key, b, s.cacheTTL); err != nil {
		s.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
