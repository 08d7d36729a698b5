package mq

import (
	"context"
	"errors"
	"testing"

	"forum/internal/errs"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

type fakeCounter struct {
	topics []string
	err    error
}

func (f *fakeCounter) Recount(_ context.Context, topicID string) (int, error) {
	f.topics = append(f.topics, topicID)
	return 3, f.err
}

func newTestConsumer(counter Recounter) *Consumer {
	return &Consumer{counter: counter, logger: zap.NewNop()}
}

func TestProcessRecounts(t *testing.T) {
	counter := &fakeCounter{}
	ack := &fakeAck{}
	newTestConsumer(counter).process(context.Background(), []byte(`{"topic_id":"t1","reason":"floor"}`), false, ack)

	assert.Equal(t, []string{"t1"}, counter.topics)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestProcessDropsMalformed(t *testing.T) {
	counter := &fakeCounter{}
	ack := &fakeAck{}
	newTestConsumer(counter).process(context.Background(), []byte(`{"reason":"x"}`), false, ack)

	assert.Empty(t, counter.topics)
	assert.True(t, ack.nacked)
	assert.False(t, ack.requeued)
}

func TestProcessFailureRequeuesOnce(t *testing.T) {
	counter := &fakeCounter{err: errors.New("boom")}
	c := newTestConsumer(counter)

	first := &fakeAck{}
	c.process(context.Background(), []byte(`{"topic_id":"t1"}`), false, first)
	assert.True(t, first.requeued)

	second := &fakeAck{}
	c.process(context.Background(), []byte(`{"topic_id":"t1"}`), true, second)
	assert.True(t, second.nacked)
	assert.False(t, second.requeued)
}

func TestProcessMissingTopicAcks(t *testing.T) {
	counter := &fakeCounter{err: errs.ErrNotFound}
	ack := &fakeAck{}
	newTestConsumer(counter).process(context.Background(), []byte(`{"topic_id":"gone"}`), false, ack)
	assert.True(t, ack.acked)
}

func TestProcessInvalidatesAfterRepair(t *testing.T) {
	var invalidated []string
	c := newTestConsumer(&fakeCounter{})
	WithInvalidate(func(_ context.Context, topicID string) {
		invalidated = append(invalidated, topicID)
	})(c)

	ack := &fakeAck{}
	c.process(context.Background(), []byte(`{"topic_id":"t1","reason":"manual"}`), false, ack)
	assert.True(t, ack.acked)
	assert.Equal(t, []string{"t1"}, invalidated)

	failing := newTestConsumer(&fakeCounter{err: errors.New("boom")})
	failing.invalidate = c.invalidate
	failing.process(context.Background(), []byte(`{"topic_id":"t2"}`), false, &fakeAck{})
	assert.Equal(t, []string{"t1"}, invalidated)
}
