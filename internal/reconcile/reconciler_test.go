package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"forum/internal/comment"
	"forum/internal/errs"
	"forum/internal/models"
	"forum/internal/store"
	"forum/internal/store/badgerstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stream is one subscription handed out by fakeSubscriber.
type stream struct {
	ctx    context.Context
	events chan store.SnapshotEvent
}

func (s *stream) send(t *testing.T, ev store.SnapshotEvent) {
	t.Helper()
	select {
	case s.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not drained")
	}
}

type fakeSubscriber struct {
	mu       sync.Mutex
	failures []error // returned by the next calls, in order
	opened   chan *stream
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{opened: make(chan *stream, 16)}
}

func (f *fakeSubscriber) SubscribeComments(ctx context.Context, _ string) (<-chan store.SnapshotEvent, error) {
	f.mu.Lock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	s := &stream{ctx: ctx, events: make(chan store.SnapshotEvent)}
	f.opened <- s
	return s.events, nil
}

func (f *fakeSubscriber) next(t *testing.T) *stream {
	t.Helper()
	select {
	case s := <-f.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription opened")
		return nil
	}
}

func testConfig() Config {
	return Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		FaultThreshold: 2,
		Logger:         zap.NewNop(),
	}
}

func waitFor(t *testing.T, o *Observer, pred func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v, ok := <-o.Views():
			require.True(t, ok, "observer closed")
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatal("view not delivered")
		}
	}
}

func live(v View) bool { return v.State == Live }

// assertClosed drains buffered views and expects the channel to be closed.
func assertClosed(t *testing.T, o *Observer) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-o.Views():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("observer still open")
		}
	}
}

func c(id, parent string, minute int) models.Comment {
	return models.Comment{
		ID:              id,
		TopicID:         "t1",
		ParentCommentID: parent,
		Body:            id,
		CreatedAt:       time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
	}
}

func TestObserveGoesLiveOnFirstSnapshot(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	o := r.Observe("t1")
	first := <-o.Views()
	assert.Equal(t, Subscribing, first.State)
	assert.Equal(t, Subscribing, r.State("t1"))

	sub.next(t).send(t, store.SnapshotEvent{Comments: []models.Comment{
		c("C3", "", 3), c("C2", "C1", 2), c("C1", "", 1),
	}})
	v := waitFor(t, o, live)
	require.Len(t, v.Forest, 2)
	assert.Equal(t, "C1", v.Forest[0].ID)
	assert.Equal(t, "C2", v.Forest[0].Children[0].ID)
	assert.Equal(t, "C3", v.Forest[1].ID)
	assert.Nil(t, v.Fault)
	assert.Equal(t, Live, r.State("t1"))
}

func TestOneSubscriptionPerTopic(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	a := r.Observe("t1")
	b := r.Observe("t1")
	s := sub.next(t)
	s.send(t, store.SnapshotEvent{Comments: []models.Comment{c("C1", "", 1)}})

	va := waitFor(t, a, live)
	vb := waitFor(t, b, live)
	assert.Same(t, va.Forest[0], vb.Forest[0])
	assert.Empty(t, sub.opened, "second observer must share the subscription")
}

func TestLateObserverGetsCurrentView(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	a := r.Observe("t1")
	sub.next(t).send(t, store.SnapshotEvent{Comments: []models.Comment{c("C1", "", 1)}})
	waitFor(t, a, live)

	b := r.Observe("t1")
	v := <-b.Views()
	assert.Equal(t, Live, v.State)
	assert.Len(t, v.Forest, 1)
}

func TestFaultKeepsLastForestAndRecovers(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	o := r.Observe("t1")
	s := sub.next(t)
	s.send(t, store.SnapshotEvent{Comments: []models.Comment{c("C1", "", 1)}})
	good := waitFor(t, o, live)

	s.send(t, store.SnapshotEvent{Err: errors.New("network down")})
	v := waitFor(t, o, func(v View) bool { return v.State == Error })
	require.NotNil(t, v.Fault)
	assert.ErrorIs(t, v.Fault, errs.ErrSubscriptionFault)
	assert.Equal(t, 1, v.Fault.Attempts)
	assert.False(t, v.Fault.Persistent)
	require.Len(t, v.Forest, 1)
	assert.Same(t, good.Forest[0], v.Forest[0])

	// reattached with backoff; the first snapshot brings it back to Live
	s = sub.next(t)
	s.send(t, store.SnapshotEvent{Comments: []models.Comment{c("C1", "", 1), c("C2", "", 2)}})
	v = waitFor(t, o, live)
	assert.Nil(t, v.Fault)
	require.Len(t, v.Forest, 2)
	assert.Same(t, good.Forest[0], v.Forest[0])
}

func TestRepeatedFailuresBecomePersistent(t *testing.T) {
	sub := newFakeSubscriber()
	sub.failures = []error{errors.New("a"), errors.New("b"), errors.New("c")}
	r := New(sub, testConfig())
	defer r.Close()

	o := r.Observe("t1")
	v := waitFor(t, o, func(v View) bool { return v.Fault != nil && v.Fault.Persistent })
	assert.Equal(t, Error, v.State)
	assert.GreaterOrEqual(t, v.Fault.Attempts, 2)
	assert.Nil(t, v.Forest)

	// failures stop; the counter resets on the first snapshot
	sub.next(t).send(t, store.SnapshotEvent{})
	v = waitFor(t, o, live)
	assert.Empty(t, v.Forest)
}

func TestClosedStreamIsAFault(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	o := r.Observe("t1")
	s := sub.next(t)
	s.send(t, store.SnapshotEvent{})
	waitFor(t, o, live)
	close(s.events)

	v := waitFor(t, o, func(v View) bool { return v.State == Error })
	assert.ErrorIs(t, v.Fault, store.ErrStreamClosed)
	sub.next(t)
}

func TestIdenticalSnapshotIsNotRepublished(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	o := r.Observe("t1")
	s := sub.next(t)
	snapshot := []models.Comment{c("C1", "", 1), c("C2", "C1", 2)}
	s.send(t, store.SnapshotEvent{Comments: snapshot})
	waitFor(t, o, live)

	s.send(t, store.SnapshotEvent{Comments: snapshot})
	// the next send blocks until the previous event was consumed
	s.send(t, store.SnapshotEvent{Comments: snapshot})
	select {
	case v := <-o.Views():
		t.Fatalf("unexpected view %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnchangedSubtreesKeepIdentity(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	o := r.Observe("t1")
	s := sub.next(t)
	s.send(t, store.SnapshotEvent{Comments: []models.Comment{c("A", "", 1), c("A1", "A", 2), c("B", "", 3)}})
	before := waitFor(t, o, live)

	edited := c("B", "", 3)
	edited.Body = "edited"
	edited.Version = 2
	s.send(t, store.SnapshotEvent{Comments: []models.Comment{c("A", "", 1), c("A1", "A", 2), edited}})
	after := waitFor(t, o, func(v View) bool { return v.Forest[1].Body == "edited" })

	assert.Same(t, before.Forest[0], after.Forest[0])
	assert.NotSame(t, before.Forest[1], after.Forest[1])
}

func TestLastObserverTearsDown(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	a := r.Observe("t1")
	b := r.Observe("t1")
	s := sub.next(t)

	a.Close()
	assert.NoError(t, s.ctx.Err())
	b.Close()
	select {
	case <-s.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not cancelled")
	}
	assert.Equal(t, Unsubscribed, r.State("t1"))
	assertClosed(t, b)
	b.Close()

	// the next observer starts over
	o := r.Observe("t1")
	assert.Equal(t, Subscribing, (<-o.Views()).State)
	sub.next(t).send(t, store.SnapshotEvent{})
	waitFor(t, o, live)
}

func TestCloseEndsObservers(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())

	o := r.Observe("t1")
	s := sub.next(t)
	r.Close()

	assert.Error(t, s.ctx.Err())
	assertClosed(t, o)

	late := r.Observe("t2")
	assertClosed(t, late)
	late.Close()
}

func TestSnapshotReturnsFirstLiveForest(t *testing.T) {
	sub := newFakeSubscriber()
	r := New(sub, testConfig())
	defer r.Close()

	go func() {
		s := <-sub.opened
		s.events <- store.SnapshotEvent{Comments: []models.Comment{c("C1", "", 1)}}
	}()
	forest, err := r.Snapshot(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Eventually(t, func() bool { return r.State("t1") == Unsubscribed }, time.Second, time.Millisecond)
}

func TestSnapshotPersistentFault(t *testing.T) {
	sub := newFakeSubscriber()
	sub.failures = []error{errors.New("a"), errors.New("b")}
	r := New(sub, testConfig())
	defer r.Close()

	_, err := r.Snapshot(context.Background(), "t1")
	assert.ErrorIs(t, err, errs.ErrSubscriptionFault)
}

func TestReconcilerFollowsStoreWrites(t *testing.T) {
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()

	topic := &models.Topic{Title: "T1", Category: models.CategoryGeneral, AuthorID: "u1"}
	require.NoError(t, s.RunTransaction(context.Background(), func(tx store.Tx) error {
		return tx.SaveTopic(topic)
	}))

	r := New(s, testConfig())
	defer r.Close()
	o := r.Observe(topic.ID)
	defer o.Close()
	waitFor(t, o, live)

	comments := comment.NewService(s)
	root, err := comments.Submit(context.Background(), topic.ID, "", "root", "u1")
	require.NoError(t, err)
	_, err = comments.Submit(context.Background(), topic.ID, root, "reply", "u2")
	require.NoError(t, err)

	v := waitFor(t, o, func(v View) bool { return v.Forest.Size() == 2 })
	require.Len(t, v.Forest, 1)
	assert.Equal(t, root, v.Forest[0].ID)
	assert.Equal(t, "reply", v.Forest[0].Children[0].Body)

	require.NoError(t, comments.Delete(context.Background(), models.Actor{UserID: "u1"}, topic.ID, root))
	v = waitFor(t, o, func(v View) bool { return v.Forest.Size() == 1 })
	assert.Equal(t, "reply", v.Forest[0].Body)
}
