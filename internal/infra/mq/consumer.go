package mq

import (
	"context"
	"encoding/json"
	"errors"

	"forum/internal/errs"
	"forum/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Recounter rebuilds a topic's reply counter from its comments.
type Recounter interface {
	Recount(ctx context.Context, topicID string) (int, error)
}

// RepairPublisher enqueues reply counter repairs.
type RepairPublisher struct {
	rabbit *RabbitMQ
}

func NewRepairPublisher(rabbit *RabbitMQ) *RepairPublisher {
	return &RepairPublisher{rabbit: rabbit}
}

func (p *RepairPublisher) EnqueueRepair(ctx context.Context, msg models.RepairMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.rabbit.Publish(ctx, RepairQueue, body)
}

// Consumer drains the repair queue.
type Consumer struct {
	rabbit     *RabbitMQ
	counter    Recounter
	invalidate func(ctx context.Context, topicID string)
	logger     *zap.Logger
}

type ConsumerOption func(*Consumer)

// WithInvalidate registers a hook run after each successful repair, so
// cached copies of the topic drop the old reply count.
func WithInvalidate(fn func(ctx context.Context, topicID string)) ConsumerOption {
	return func(c *Consumer) { c.invalidate = fn }
}

func NewConsumer(rabbit *RabbitMQ, counter Recounter, opts ...ConsumerOption) *Consumer {
	c := &Consumer{rabbit: rabbit, counter: counter, logger: zap.L().Named("repair")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx ends or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rabbit.Consume(RepairQueue)
	if err != nil {
		return err
	}
	c.logger.Info("Waiting for repair messages...")
	go c.run(ctx, msgs)
	return nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("repair queue closed")
				return
			}
			c.handle(ctx, d)
		}
	}
}

// Acknowledger is the part of amqp.Delivery that handle needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	c.process(ctx, d.Body, d.Redelivered, &d)
}

// process recounts one topic. A failed recount is requeued once; a topic that
// no longer exists needs no repair.
func (c *Consumer) process(ctx context.Context, body []byte, redelivered bool, ack Acknowledger) {
	var msg models.RepairMsg
	if err := json.Unmarshal(body, &msg); err != nil || msg.TopicID == "" {
		c.logger.Error("Failed to unmarshal repair msg", zap.ByteString("body", body), zap.Error(err))
		_ = ack.Nack(false, false)
		return
	}

	n, err := c.counter.Recount(ctx, msg.TopicID)
	if errors.Is(err, errs.ErrNotFound) {
		c.logger.Info("Topic gone, dropping repair", zap.String("topic_id", msg.TopicID))
		_ = ack.Ack(false)
		return
	}
	if err != nil {
		c.logger.Error("Recount failed", zap.String("topic_id", msg.TopicID), zap.Error(err))
		_ = ack.Nack(false, !redelivered && ctx.Err() == nil)
		return
	}
	if c.invalidate != nil {
		c.invalidate(ctx, msg.TopicID)
	}
	c.logger.Info("Reply count repaired",
		zap.String("topic_id", msg.TopicID),
		zap.String("reason", msg.Reason),
		zap.Int("reply_count", n))
	_ = ack.Ack(false)
}
