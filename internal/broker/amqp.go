package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

// AMQPTransport реализует транспорт поверх AMQP 0.9.1 (RabbitMQ).
// Очереди долговечные и объявляются лениво при первом обращении.
type AMQPTransport struct {
	conn *amqp.Connection

	mu       sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
}

// DialAMQP устанавливает соединение с брокером, повторяя попытки
// с нарастающей задержкой, пока брокер поднимается.
func DialAMQP(ctx context.Context, url string) (*AMQPTransport, error) {
	var conn *amqp.Connection

	backoff := retry.WithMaxDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var dialErr error
		conn, dialErr = amqp.Dial(url)
		if dialErr != nil {
			return retry.RetryableError(dialErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &AMQPTransport{
		conn:     conn,
		pubCh:    pubCh,
		declared: make(map[string]bool),
	}, nil
}

func (t *AMQPTransport) ensureQueue(ch *amqp.Channel, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.declared[topic] {
		return nil
	}

	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}

	t.declared[topic] = true
	return nil
}

// Publish отправляет сообщение в очередь темы.
func (t *AMQPTransport) Publish(ctx context.Context, topic string, body []byte) error {
	if err := t.ensureQueue(t.pubCh, topic); err != nil {
		return err
	}

	err := t.pubCh.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe запускает потребителя темы на отдельном канале.
// Prefetch ограничивает число неподтверждённых сообщений в обработке.
func (t *AMQPTransport) Subscribe(ctx context.Context, topic string, autoAck bool, prefetch int, handler func(Delivery)) (func() error, error) {
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if !autoAck {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}

	if err := t.ensureQueue(ch, topic); err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(topic, "", autoAck, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", topic, err)
	}

	go func() {
		for d := range deliveries {
			d := d
			handler(Delivery{
				Body: d.Body,
				Ack:  func() { _ = d.Ack(false) },
				Nack: func() { _ = d.Nack(false, true) },
			})
		}
	}()

	// Закрытие канала отменяет потребителя и завершает цикл доставки.
	return ch.Close, nil
}

// Close закрывает соединение с брокером.
func (t *AMQPTransport) Close() error {
	return t.conn.Close()
}
