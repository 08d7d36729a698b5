package comment

import (
	"context"
	"errors"
	"fmt"

	"forum/internal/errs"
	"forum/internal/store"
	"forum/internal/thread"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var recountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "forum_reply_count_recount_total",
	Help: "Reply counter recounts by outcome",
}, []string{"outcome"})

// Counter recomputes reply counters from the comments themselves.
type Counter struct {
	store       store.Transactor
	maxAttempts int
	logger      *zap.Logger
}

func NewCounter(s store.Transactor, maxAttempts int) *Counter {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Counter{store: s, maxAttempts: maxAttempts, logger: zap.L()}
}

// Recount overwrites the topic's ReplyCount with the size of its comment
// forest and returns that size.
func (c *Counter) Recount(ctx context.Context, topicID string) (int, error) {
	var n, before int
	_, err := store.WithRetry(ctx, c.store, c.maxAttempts, func(tx store.Tx) error {
		topic, err := tx.Topic(topicID)
		if err != nil {
			return err
		}
		comments, err := tx.Comments(topicID)
		if err != nil {
			return err
		}
		n = thread.Build(comments).Size()
		before = topic.ReplyCount
		if before == n {
			return nil
		}
		topic.ReplyCount = n
		return tx.SaveTopic(topic)
	})
	if err != nil {
		recountTotal.WithLabelValues("error").Inc()
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("topic %s: %w", topicID, errs.ErrNotFound)
		}
		return 0, err
	}
	if before != n {
		recountTotal.WithLabelValues("corrected").Inc()
		c.logger.Info("reply count corrected",
			zap.String("topic_id", topicID), zap.Int("stored", before), zap.Int("actual", n))
	} else {
		recountTotal.WithLabelValues("unchanged").Inc()
	}
	return n, nil
}

// Drift reports the stored counter next to the authoritative count without
// changing anything.
func (c *Counter) Drift(ctx context.Context, topicID string) (stored, actual int, err error) {
	err = c.store.RunTransaction(ctx, func(tx store.Tx) error {
		topic, err := tx.Topic(topicID)
		if err != nil {
			return err
		}
		comments, err := tx.Comments(topicID)
		if err != nil {
			return err
		}
		stored, actual = topic.ReplyCount, thread.Build(comments).Size()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, fmt.Errorf("topic %s: %w", topicID, errs.ErrNotFound)
	}
	return stored, actual, err
}
