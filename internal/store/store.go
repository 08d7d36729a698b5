// Package store is the contract between the forum engine and the document
// store that holds topics and comments. Implementations live in
// sub-packages; the engine only sees these interfaces.
package store

import (
	"context"
	"errors"

	"forum/internal/models"
)

var (
	// ErrConflict means a value read inside the transaction changed before
	// commit. Nothing was written; the caller decides whether to retry.
	ErrConflict = errors.New("transaction conflict")
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store closed")
)

// Tx is the read/write handle of one transaction attempt.
type Tx interface {
	Topic(id string) (*models.Topic, error)
	Comment(topicID, id string) (*models.Comment, error)
	Comments(topicID string) ([]models.Comment, error)

	// SaveTopic inserts t when t.ID is empty, assigning ID and CreatedAt,
	// and otherwise overwrites the stored record. Version is bumped.
	SaveTopic(t *models.Topic) error
	// SaveComment behaves like SaveTopic for comments.
	SaveComment(c *models.Comment) error
	DeleteComment(topicID, id string) error
	// DeleteTopic removes t only while it still has the Version it was read
	// at, and returns ErrConflict otherwise.
	DeleteTopic(t *models.Topic) error
}

type Transactor interface {
	// RunTransaction runs fn once. If fn returns nil the writes are
	// committed, or ErrConflict is returned when a read went stale.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// SnapshotEvent is one delivery of a comment subscription: either the full
// current comment set of the topic or the error that ended the stream.
type SnapshotEvent struct {
	Comments []models.Comment
	Err      error
}

type Subscriber interface {
	// SubscribeComments delivers the topic's full comment set now and again
	// after every change. The channel is closed after an error event or once
	// ctx is done.
	SubscribeComments(ctx context.Context, topicID string) (<-chan SnapshotEvent, error)
}

type TopicLister interface {
	ListTopics(ctx context.Context, q models.TopicQuery) ([]models.Topic, error)
}

// Adapter is everything the engine needs from a store.
type Adapter interface {
	Transactor
	Subscriber
	TopicLister
	Close() error
}
