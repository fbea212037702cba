package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const memoryQueueSize = 256

// MemoryTransport — транспорт в памяти для тестов и односерверного запуска.
// Очереди создаются лениво при первом обращении; nack возвращает сообщение
// в очередь с небольшой задержкой.
type MemoryTransport struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryTransport создаёт новый транспорт в памяти.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		queues: make(map[string]chan []byte),
	}
}

func (t *MemoryTransport) queue(topic string) (chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New("transport closed")
	}

	q, ok := t.queues[topic]
	if !ok {
		q = make(chan []byte, memoryQueueSize)
		t.queues[topic] = q
	}
	return q, nil
}

// Publish помещает сообщение в очередь темы.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, body []byte) error {
	q, err := t.queue(topic)
	if err != nil {
		return err
	}

	select {
	case q <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("queue %s is full", topic)
	}
}

// Subscribe запускает prefetch воркеров, читающих очередь темы.
func (t *MemoryTransport) Subscribe(ctx context.Context, topic string, autoAck bool, prefetch int, handler func(Delivery)) (func() error, error) {
	q, err := t.queue(topic)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	var once sync.Once

	for range prefetch {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case body, ok := <-q:
					if !ok {
						return
					}
					handler(Delivery{
						Body: body,
						Ack:  func() {},
						Nack: func() { t.requeue(topic, body) },
					})
				}
			}
		}()
	}

	cancel := func() error {
		once.Do(func() { close(stop) })
		return nil
	}
	return cancel, nil
}

func (t *MemoryTransport) requeue(topic string, body []byte) {
	// Пауза перед повторной доставкой, чтобы не крутить отравленное
	// сообщение в горячем цикле.
	time.Sleep(10 * time.Millisecond)

	q, err := t.queue(topic)
	if err != nil {
		return
	}
	select {
	case q <- body:
	default:
	}
}

// Close останавливает транспорт. Очереди не закрываются, чтобы воркеры
// завершились по каналу stop без паник на повторной публикации.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
