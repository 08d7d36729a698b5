package reaction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"forum/internal/errs"
	"forum/internal/models"
	"forum/internal/store"
	"forum/internal/store/badgerstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s store.Transactor) (*models.Topic, *models.Comment) {
	t.Helper()
	topic := &models.Topic{Title: "T1", Category: models.CategoryGeneral, AuthorID: "author", ReplyCount: 1}
	c := &models.Comment{AuthorID: "author", Body: "first"}
	require.NoError(t, s.RunTransaction(context.Background(), func(tx store.Tx) error {
		if err := tx.SaveTopic(topic); err != nil {
			return err
		}
		c.TopicID = topic.ID
		return tx.SaveComment(c)
	}))
	return topic, c
}

func loadTopic(t *testing.T, s store.Transactor, id string) *models.Topic {
	t.Helper()
	var out *models.Topic
	require.NoError(t, s.RunTransaction(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.Topic(id)
		return err
	}))
	return out
}

func TestToggleAddsThenRemoves(t *testing.T) {
	s := openStore(t)
	topic, _ := seed(t, s)
	l := NewLedger(s, WithLogger(zap.NewNop()))
	ref := models.EntityRef{TopicID: topic.ID}
	ctx := context.Background()

	on, err := l.Toggle(ctx, ref, models.ReactionLike, "u1")
	require.NoError(t, err)
	assert.True(t, on)

	off, err := l.Toggle(ctx, ref, models.ReactionLike, "u1")
	require.NoError(t, err)
	assert.False(t, off)

	got := loadTopic(t, s, topic.ID)
	assert.Empty(t, got.Reactions.Likes)
	assert.Equal(t, 1, got.ReplyCount)
}

func TestToggleKindsAreIndependent(t *testing.T) {
	s := openStore(t)
	topic, c := seed(t, s)
	l := NewLedger(s)
	ref := models.EntityRef{TopicID: topic.ID, CommentID: c.ID}
	ctx := context.Background()

	_, err := l.Toggle(ctx, ref, models.ReactionLike, "u1")
	require.NoError(t, err)
	_, err = l.Toggle(ctx, ref, models.ReactionThank, "u1")
	require.NoError(t, err)

	require.NoError(t, s.RunTransaction(ctx, func(tx store.Tx) error {
		got, err := tx.Comment(topic.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, got.Reactions.Likes)
		assert.Equal(t, []string{"u1"}, got.Reactions.Thanks)
		return nil
	}))
	// the topic's own set is untouched
	assert.Empty(t, loadTopic(t, s, topic.ID).Reactions.Likes)
}

func TestToggleRejectsBadInput(t *testing.T) {
	s := openStore(t)
	topic, _ := seed(t, s)
	l := NewLedger(s)
	ctx := context.Background()

	_, err := l.Toggle(ctx, models.EntityRef{TopicID: topic.ID}, models.ReactionLike, "")
	assert.ErrorIs(t, err, errs.ErrPermissionDenied)

	_, err = l.Toggle(ctx, models.EntityRef{TopicID: topic.ID}, "love", "u1")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = l.Toggle(ctx, models.EntityRef{TopicID: "missing"}, models.ReactionLike, "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = l.Toggle(ctx, models.EntityRef{TopicID: topic.ID, CommentID: "missing"}, models.ReactionThank, "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// barrier holds the first n transaction bodies until all of them have read,
// so their commits are forced to interleave.
type barrier struct {
	inner store.Transactor
	n     int32
	calls atomic.Int32
	wg    sync.WaitGroup
}

func newBarrier(inner store.Transactor, n int) *barrier {
	b := &barrier{inner: inner, n: int32(n)}
	b.wg.Add(n)
	return b
}

func (b *barrier) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	return b.inner.RunTransaction(ctx, func(tx store.Tx) error {
		err := fn(tx)
		if b.calls.Add(1) <= b.n {
			b.wg.Done()
			b.wg.Wait()
		}
		return err
	})
}

func TestConcurrentTogglesByDifferentUsersBothLand(t *testing.T) {
	s := openStore(t)
	topic, _ := seed(t, s)
	b := newBarrier(s, 2)
	l := NewLedger(b)
	ref := models.EntityRef{TopicID: topic.ID}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, results[i] = l.Toggle(context.Background(), ref, models.ReactionLike, user)
		}(i, user)
	}
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])
	assert.Greater(t, b.calls.Load(), int32(2), "one toggle must have retried")
	assert.Equal(t, []string{"u1", "u2"}, loadTopic(t, s, topic.ID).Reactions.Likes)
}

func TestConcurrentTogglesManyUsers(t *testing.T) {
	s := openStore(t)
	topic, c := seed(t, s)
	l := NewLedger(s, WithMaxAttempts(50))
	ref := models.EntityRef{TopicID: topic.ID, CommentID: c.ID}

	users := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := l.Toggle(context.Background(), ref, models.ReactionThank, u)
			assert.NoError(t, err)
		}(u)
	}
	wg.Wait()

	require.NoError(t, s.RunTransaction(context.Background(), func(tx store.Tx) error {
		got, err := tx.Comment(topic.ID, c.ID)
		require.NoError(t, err)
		assert.Equal(t, users, got.Reactions.Thanks)
		return nil
	}))
}

type alwaysConflict struct{ calls int }

func (a *alwaysConflict) RunTransaction(context.Context, func(tx store.Tx) error) error {
	a.calls++
	return store.ErrConflict
}

func TestToggleExhaustsAttempts(t *testing.T) {
	a := &alwaysConflict{}
	l := NewLedger(a, WithMaxAttempts(3), WithLogger(zap.NewNop()))

	_, err := l.Toggle(context.Background(), models.EntityRef{TopicID: "t1"}, models.ReactionLike, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrReactionConflict)
	assert.ErrorIs(t, err, store.ErrConflict)

	var rc *errs.ReactionConflict
	require.True(t, errors.As(err, &rc))
	assert.Equal(t, 3, rc.Attempts)
	assert.Equal(t, "topic:t1", rc.Entity)
	assert.Equal(t, 3, a.calls)
}
