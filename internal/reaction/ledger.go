// Package reaction applies like/thank toggles to topics and comments.
package reaction

import (
	"context"
	"errors"

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

const DefaultMaxAttempts = 5

var (
	toggleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_reaction_toggle_total",
		Help: "Reaction toggles by kind and result",
	}, []string{"kind", "result"})

	toggleAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forum_reaction_toggle_attempts",
		Help:    "Transaction attempts per reaction toggle",
		Buckets: []float64{1, 2, 3, 5, 8},
	})

	tracer = otel.Tracer("forum.reaction")
)

// Ledger is the only writer of reaction sets.
type Ledger struct {
	store       store.Transactor
	maxAttempts int
	logger      *zap.Logger
}

type Option func(*Ledger)

func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func NewLedger(s store.Transactor, opts ...Option) *Ledger {
	l := &Ledger{store: s, maxAttempts: DefaultMaxAttempts, logger: zap.L()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Toggle adds userID to the entity's set for kind, or removes it when
// already present, and returns the new membership.
//
// The read-modify-write runs in one transaction and is retried on conflict.
// Once the attempts are used up the toggle fails with *errs.ReactionConflict
// and nothing was applied.
func (l *Ledger) Toggle(ctx context.Context, ref models.EntityRef, kind models.ReactionKind, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "reaction.Toggle", trace.WithAttributes(
		attribute.String("entity", ref.String()),
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	if userID == "" {
		return false, errs.ErrPermissionDenied
	}
	if _, err := models.ParseReactionKind(string(kind)); err != nil {
		return false, errs.Invalid("%v", err)
	}
	if ref.TopicID == "" {
		return false, errs.Invalid("entity reference has no topic")
	}

	var member bool
	tries, err := store.WithRetry(ctx, l.store, l.maxAttempts, func(tx store.Tx) error {
		var err error
		member, err = apply(tx, ref, kind, userID)
		return err
	})
	toggleAttempts.Observe(float64(tries))
	span.SetAttributes(attribute.Int("attempts", tries))

	switch {
	case err == nil:
		toggleTotal.WithLabelValues(string(kind), "ok").Inc()
		return member, nil
	case errors.Is(err, store.ErrConflict):
		toggleTotal.WithLabelValues(string(kind), "conflict").Inc()
		span.SetStatus(codes.Error, "retries exhausted")
		l.logger.Warn("reaction toggle gave up",
			zap.String("entity", ref.String()),
			zap.String("kind", string(kind)),
			zap.Int("attempts", tries))
		return false, &errs.ReactionConflict{Entity: ref.String(), Kind: string(kind), Attempts: tries, Err: err}
	case errors.Is(err, store.ErrNotFound):
		toggleTotal.WithLabelValues(string(kind), "not_found").Inc()
		return false, errs.ErrNotFound
	default:
		toggleTotal.WithLabelValues(string(kind), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
}

// apply only touches the reaction field of the one entity.
func apply(tx store.Tx, ref models.EntityRef, kind models.ReactionKind, userID string) (bool, error) {
	if ref.IsTopic() {
		t, err := tx.Topic(ref.TopicID)
		if err != nil {
			return false, err
		}
		member, err := t.Reactions.Toggle(kind, userID)
		if err != nil {
			return false, err
		}
		return member, tx.SaveTopic(t)
	}

	c, err := tx.Comment(ref.TopicID, ref.CommentID)
	if err != nil {
		return false, err
	}
	member, err := c.Reactions.Toggle(kind, userID)
	if err != nil {
		return false, err
	}
	return member, tx.SaveComment(c)
}
