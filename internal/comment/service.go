// Package comment writes comments and keeps the topic's reply counter in
// step with them.
package comment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"forum/internal/errs"
	"forum/internal/models"
	"forum/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 5
	MaxBodyLength      = 10000
)

var (
	writeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_comment_write_total",
		Help: "Comment writes by operation and result",
	}, []string{"operation", "result"})

	counterFloorTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forum_reply_count_floor_total",
		Help: "Comment deletions that found the reply counter already at zero",
	})

	tracer = otel.Tracer("forum.comment")
)

// RepairQueue accepts topics whose reply counter should be recounted.
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, msg models.RepairMsg) error
}

type Service struct {
	store       store.Transactor
	maxAttempts int
	repairs     RepairQueue
	logger      *zap.Logger
}

type Option func(*Service)

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRepairQueue routes counter drift to a background recount. Without
// one, drift is only logged.
func WithRepairQueue(q RepairQueue) Option {
	return func(s *Service) { s.repairs = q }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(s store.Transactor, opts ...Option) *Service {
	svc := &Service{store: s, maxAttempts: DefaultMaxAttempts, logger: zap.L()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func cleanBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", errs.Invalid("comment body is empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", errs.Invalid("comment body exceeds %d characters", MaxBodyLength)
	}
	return body, nil
}

// Submit stores a new comment and bumps the topic's reply counter in the
// same transaction. parentID may be empty for a reply to the topic itself;
// otherwise it must name a comment of the same topic.
func (s *Service) Submit(ctx context.Context, topicID, parentID, body, authorID string) (string, error) {
	ctx, span := tracer.Start(ctx, "comment.Submit", trace.WithAttributes(
		attribute.String("topic_id", topicID),
		attribute.Bool("reply", parentID != ""),
	))
	defer span.End()

	if authorID == "" {
		return "", errs.ErrPermissionDenied
	}
	body, err := cleanBody(body)
	if err != nil {
		return "", err
	}

	var id string
	_, err = store.WithRetry(ctx, s.store, s.maxAttempts, func(tx store.Tx) error {
		topic, err := tx.Topic(topicID)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topicID, err)
		}
		if parentID != "" {
			if _, err := tx.Comment(topicID, parentID); err != nil {
				return fmt.Errorf("parent comment %s: %w", parentID, err)
			}
		}
		c := &models.Comment{
			TopicID:         topicID,
			ParentCommentID: parentID,
			AuthorID:        authorID,
			Body:            body,
		}
		if err := tx.SaveComment(c); err != nil {
			return err
		}
		topic.ReplyCount++
		if err := tx.SaveTopic(topic); err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	if err != nil {
		return "", s.fail(span, "submit", err)
	}
	writeTotal.WithLabelValues("submit", "ok").Inc()
	span.SetAttributes(attribute.String("comment_id", id))
	return id, nil
}

// Edit replaces a comment's body. Only its author or a privileged actor may
// do so.
func (s *Service) Edit(ctx context.Context, actor models.Actor, topicID, commentID, body string) (*models.Comment, error) {
	ctx, span := tracer.Start(ctx, "comment.Edit", trace.WithAttributes(
		attribute.String("topic_id", topicID),
		attribute.String("comment_id", commentID),
	))
	defer span.End()

	if actor.UserID == "" {
		return nil, errs.ErrPermissionDenied
	}
	body, err := cleanBody(body)
	if err != nil {
		return nil, err
	}

	var out *models.Comment
	_, err = store.WithRetry(ctx, s.store, s.maxAttempts, func(tx store.Tx) error {
		c, err := tx.Comment(topicID, commentID)
		if err != nil {
			return err
		}
		if !actor.CanModify(c.AuthorID) {
			return errs.ErrForbidden
		}
		c.Body = body
		if err := tx.SaveComment(c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "edit", err)
	}
	writeTotal.WithLabelValues("edit", "ok").Inc()
	return out, nil
}

// Delete removes a single comment. Its replies stay and are shown as roots.
// The reply counter drops by one in the same transaction and never below
// zero; finding it already at zero means it drifted, and a recount is
// requested.
func (s *Service) Delete(ctx context.Context, actor models.Actor, topicID, commentID string) error {
	ctx, span := tracer.Start(ctx, "comment.Delete", trace.WithAttributes(
		attribute.String("topic_id", topicID),
		attribute.String("comment_id", commentID),
	))
	defer span.End()

	if actor.UserID == "" {
		return errs.ErrPermissionDenied
	}

	var floorHit bool
	_, err := store.WithRetry(ctx, s.store, s.maxAttempts, func(tx store.Tx) error {
		floorHit = false
		c, err := tx.Comment(topicID, commentID)
		if err != nil {
			return err
		}
		if !actor.CanModify(c.AuthorID) {
			return errs.ErrForbidden
		}
		if err := tx.DeleteComment(topicID, commentID); err != nil {
			return err
		}

		topic, err := tx.Topic(topicID)
		if errors.Is(err, store.ErrNotFound) {
			// topic removal is mid-cascade; nothing left to count
			return nil
		}
		if err != nil {
			return err
		}
		floorHit = decrement(topic)
		return tx.SaveTopic(topic)
	})
	if err != nil {
		return s.fail(span, "delete", err)
	}
	writeTotal.WithLabelValues("delete", "ok").Inc()

	if floorHit {
		counterFloorTotal.Inc()
		s.requestRepair(ctx, topicID, "reply count already zero on delete")
	}
	return nil
}

// decrement lowers the counter by one, clamped at zero, and reports whether
// the clamp applied.
func decrement(topic *models.Topic) bool {
	if topic.ReplyCount <= 0 {
		topic.ReplyCount = 0
		return true
	}
	topic.ReplyCount--
	return false
}

func (s *Service) requestRepair(ctx context.Context, topicID, reason string) {
	if s.repairs == nil {
		s.logger.Warn("reply count drift detected, no repair queue configured",
			zap.String("topic_id", topicID), zap.String("reason", reason))
		return
	}
	if err := s.repairs.EnqueueRepair(ctx, models.RepairMsg{TopicID: topicID, Reason: reason}); err != nil {
		s.logger.Error("failed to enqueue reply count repair", zap.String("topic_id", topicID), zap.Error(err))
	}
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	err = translate(err)
	switch {
	case errors.Is(err, errs.ErrPermissionDenied), errors.Is(err, errs.ErrForbidden),
		errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrInvalidInput):
		writeTotal.WithLabelValues(op, "rejected").Inc()
	default:
		writeTotal.WithLabelValues(op, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// translate maps store sentinels onto the engine's error taxonomy.
func translate(err error) error {
	if errors.Is(err, store.ErrNotFound) && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	}
	return err
}
