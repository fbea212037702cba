// Package broker реализует диспетчеризацию командных сообщений поверх
// абстрактного транспорта с доставкой не менее одного раза.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/donation-receipt-system/internal/model"
)

// Topic идентифицирует тему командных сообщений.
type Topic string

const (
	TopicGeneratePDF Topic = "receipts.generate-pdf"
	TopicSendEmail   Topic = "receipts.send-email"
	TopicBulkImport  Topic = "receipts.bulk-import"
)

// ErrUnknownTopic возвращается при обращении к теме вне фиксированного набора
// или при отсутствии обработчика для темы. Ошибка фатальна на старте процесса.
var (
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrAlreadySubscribed возвращается при повторной подписке в одном процессе.
	// Подписка — синглтон уровня процесса.
	ErrAlreadySubscribed = errors.New("broker already subscribed")
)

// errDecode помечает испорченное сообщение, которое нельзя передоставлять.
var errDecode = errors.New("undecodable message")

// prefetchLimit ограничивает число одновременно обрабатываемых сообщений
// на одну подписку.
const prefetchLimit = 4

// Delivery передаёт тело сообщения обработчику вместе с функциями подтверждения.
type Delivery struct {
	Body []byte
	Ack  func()
	Nack func()
}

// Transport абстрагирует шину сообщений. При autoAck=true сообщение
// подтверждается до вызова обработчика и никогда не доставляется повторно.
type Transport interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(ctx context.Context, topic string, autoAck bool, prefetch int, handler func(Delivery)) (func() error, error)
	Close() error
}

// Handlers перечисляет обработчики командных сообщений. Набор тем закрыт
// на этапе компиляции; каждый обработчик обязателен.
type Handlers struct {
	GeneratePDF func(ctx context.Context, cmd model.GeneratePDFCommand) error
	SendEmail   func(ctx context.Context, cmd model.SendEmailCommand) error
	BulkImport  func(ctx context.Context, cmd model.BulkImportCommand) error
}

// Broker публикует командные сообщения и управляет жизненным циклом подписок.
type Broker struct {
	transport Transport
	logger    *zap.Logger

	mu         sync.Mutex
	subscribed bool
	cancels    []func() error
}

// New создаёт новый брокер поверх указанного транспорта.
func New(transport Transport, logger *zap.Logger) *Broker {
	return &Broker{
		transport: transport,
		logger:    logger,
	}
}

// Publish сериализует команду и публикует её в указанную тему.
func (b *Broker) Publish(ctx context.Context, topic Topic, cmd any) error {
	switch topic {
	case TopicGeneratePDF, TopicSendEmail, TopicBulkImport:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	if err := b.transport.Publish(ctx, string(topic), body); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe подключает обработчики ко всем темам. Повторный вызов в одном
// процессе возвращает ErrAlreadySubscribed.
//
// Темы generate-pdf и bulk-import подтверждаются после успешной обработки:
// ошибка обработчика приводит к отрицательному подтверждению и повторной
// доставке. Тема send-email подтверждается до вызова обработчика, чтобы
// повторная доставка не привела к дублям исходящих писем; ошибка только
// логируется.
func (b *Broker) Subscribe(ctx context.Context, h Handlers) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribed {
		return ErrAlreadySubscribed
	}

	if h.GeneratePDF == nil || h.SendEmail == nil || h.BulkImport == nil {
		return fmt.Errorf("%w: handler missing", ErrUnknownTopic)
	}

	subscriptions := []struct {
		topic       Topic
		retryOnFail bool
		handle      func(ctx context.Context, body []byte) error
	}{
		{
			topic:       TopicGeneratePDF,
			retryOnFail: true,
			handle: func(ctx context.Context, body []byte) error {
				var cmd model.GeneratePDFCommand
				if err := json.Unmarshal(body, &cmd); err != nil {
					return fmt.Errorf("%w: generate-pdf: %w", errDecode, err)
				}
				return h.GeneratePDF(ctx, cmd)
			},
		},
		{
			topic:       TopicSendEmail,
			retryOnFail: false,
			handle: func(ctx context.Context, body []byte) error {
				var cmd model.SendEmailCommand
				if err := json.Unmarshal(body, &cmd); err != nil {
					return fmt.Errorf("%w: send-email: %w", errDecode, err)
				}
				return h.SendEmail(ctx, cmd)
			},
		},
		{
			topic:       TopicBulkImport,
			retryOnFail: true,
			handle: func(ctx context.Context, body []byte) error {
				var cmd model.BulkImportCommand
				if err := json.Unmarshal(body, &cmd); err != nil {
					return fmt.Errorf("%w: bulk-import: %w", errDecode, err)
				}
				return h.BulkImport(ctx, cmd)
			},
		},
	}

	for _, sub := range subscriptions {
		cancel, err := b.consume(ctx, sub.topic, sub.retryOnFail, sub.handle)
		if err != nil {
			b.cancelLocked()
			return fmt.Errorf("subscribe to %s: %w", sub.topic, err)
		}
		b.cancels = append(b.cancels, cancel)
	}

	b.subscribed = true
	return nil
}

func (b *Broker) consume(ctx context.Context, topic Topic, retryOnFail bool, handle func(ctx context.Context, body []byte) error) (func() error, error) {
	// Декодирование сообщения — тоже ошибка обработки: при retryOnFail
	// испорченное сообщение было бы передоставлено, поэтому такие ошибки
	// логируются и подтверждаются.
	return b.transport.Subscribe(ctx, string(topic), !retryOnFail, prefetchLimit, func(d Delivery) {
		err := handle(ctx, d.Body)
		if !retryOnFail {
			if err != nil {
				b.logger.Error("message handler failed, message dropped",
					zap.String("topic", string(topic)), zap.Error(err))
			}
			return
		}

		if err != nil {
			if errors.Is(err, errDecode) {
				b.logger.Error("message dropped",
					zap.String("topic", string(topic)), zap.Error(err))
				d.Ack()
				return
			}
			b.logger.Error("message handler failed, message will be redelivered",
				zap.String("topic", string(topic)), zap.Error(err))
			d.Nack()
			return
		}
		d.Ack()
	})
}

func (b *Broker) cancelLocked() {
	for _, cancel := range b.cancels {
		if err := cancel(); err != nil {
			b.logger.Error("cancel subscription", zap.Error(err))
		}
	}
	b.cancels = nil
}

// Close отменяет подписки и закрывает транспорт.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelLocked()
	b.subscribed = false

	return b.transport.Close()
}
