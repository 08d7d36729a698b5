package mq

import (
	"context"
	"fmt"
	"sync"

	"forum/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RepairQueue carries RepairMsg payloads for topics whose reply counter
// needs an authoritative recount.
const RepairQueue = "reply_count_repair_queue"

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

func New(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
	}, nil
}

func (r *RabbitMQ) declare(queue string) error {
	_, err := r.channel.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

// Publish sends a persistent JSON message to queue, declaring it first.
func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declare(queue); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return r.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume starts a manual-ack consumer on queue.
func (r *RabbitMQ) Consume(queue string) (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.declare(queue); err != nil {
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := r.channel.Qos(1, 0, false); err != nil {
		return nil, err
	}
	return r.channel.Consume(queue, "", false, false, false, false, nil)
}

func (r *RabbitMQ) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
