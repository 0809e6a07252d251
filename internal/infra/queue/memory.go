package queue

import (
	"context"
	"sync"
	"time"
)

const memoryBuffer = 1024

// プロセス内ブローカー（テストと QUEUE_DRIVER=memory 用）
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	timers map[*time.Timer]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		queues: map[string]chan []byte{},
		timers: map[*time.Timer]struct{}{},
	}
}

func (m *Memory) queue(name string) (chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[name]
	if !ok {
		q = make(chan []byte, memoryBuffer)
		m.queues[name] = q
	}
	return q, nil
}

func (m *Memory) Publish(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	q, err := m.queue(queue)
	if err != nil {
		return err
	}
	msg := append([]byte(nil), body...)

	if delay <= 0 {
		select {
		case q <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, timer)
		closed := m.closed
		m.mu.Unlock()
		if !closed {
			q <- msg
		}
	})
	m.timers[timer] = struct{}{}
	return nil
}

func (m *Memory) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	q, err := m.queue(queue)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-q:
				d := NewDelivery(msg, nil, func(requeue bool) error {
					if requeue {
						q <- msg
					}
					return nil
				})
				select {
				case out <- d:
				case <-ctx.Done():
					// 未配送分は戻す
					q <- msg
					return
				}
			}
		}
	}()
	return out, nil
}

// キューに残っている件数（遅延中は含まない）
func (m *Memory) Len(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[queue])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for t := range m.timers {
		t.Stop()
	}
	m.timers = map[*time.Timer]struct{}{}
	return nil
}
