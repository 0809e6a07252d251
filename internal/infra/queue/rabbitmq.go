package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ はキューごとに <queue>.retry を持ち、TTL 切れで本キューへ戻す
type RabbitMQ struct {
	conn     *amqp.Connection
	prefetch map[string]int

	mu    sync.Mutex
	pubCh *amqp.Channel
}

func DialRabbitMQ(url string, prefetch map[string]int) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	r := &RabbitMQ{conn: conn, prefetch: prefetch, pubCh: ch}
	for q := range prefetch {
		if err := declare(ch, q); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

func declare(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(retryQueue(queue), true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", retryQueue(queue), err)
	}
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	routingKey := queue
	if delay > 0 {
		routingKey = retryQueue(queue)
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubCh == nil || r.pubCh.IsClosed() {
		return ErrClosed
	}
	if err := r.pubCh.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

// 手動 ack。prefetch はレーンの並列数
func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	prefetch := r.prefetch[queue]
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				delivery := NewDelivery(d.Body,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Nack(false, requeue) },
				)
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubCh != nil {
		_ = r.pubCh.Close()
		r.pubCh = nil
	}
	return r.conn.Close()
}
