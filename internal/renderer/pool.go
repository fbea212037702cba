// Package renderer реализует пул отрисовки HTML в PDF с ограничением
// числа одновременных сессий.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRender сигнализирует об отказе движка отрисовки; исходная причина
// доступна через errors.Unwrap.
var ErrRender = errors.New("render failed")

// Session — одна страница движка отрисовки. Закрывается безусловно
// после использования.
type Session interface {
	Render(ctx context.Context, html string) ([]byte, error)
	Close() error
}

// Engine абстрагирует движок отрисовки HTML в PDF.
type Engine interface {
	Start(ctx context.Context) error
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Pool ограничивает число одновременных сессий отрисовки общим движком.
// Перед первым использованием пул необходимо инициализировать через Init,
// по завершении работы — закрыть через Close.
type Pool struct {
	engine Engine
	logger *zap.Logger
	max    int

	mu      sync.Mutex
	inUse   int
	started bool
}

// NewPool создаёт пул с указанным движком и максимумом одновременных сессий.
func NewPool(engine Engine, maxSessions int, logger *zap.Logger) *Pool {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Pool{
		engine: engine,
		logger: logger,
		max:    maxSessions,
	}
}

// Init запускает движок отрисовки. Вызывается один раз на старте процесса.
func (p *Pool) Init(ctx context.Context) error {
	if err := p.engine.Start(ctx); err != nil {
		return fmt.Errorf("start render engine: %w", err)
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	return nil
}

// Render отрисовывает HTML в PDF, дождавшись свободного слота.
// Вызов до Init — ошибка использования, приводящая к панике.
func (p *Pool) Render(ctx context.Context, html string) ([]byte, error) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		panic("renderer: Render called before Init")
	}

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	session, err := p.engine.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.logger.Error("close render session", zap.Error(err))
		}
	}()

	pdf, err := session.Render(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	return pdf, nil
}

// acquire занимает слот, опрашивая счётчик со случайной ограниченной паузой.
// Порядок выдачи слотов при конкуренции не определён; тайм-аут ожидания
// задаётся только контекстом вызывающего.
func (p *Pool) acquire(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.inUse < p.max {
			p.inUse++
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		pause := time.Duration(10+rand.IntN(40)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
}

// Close останавливает движок. Счётчик занятых слотов не сбрасывается:
// отрисовки в полёте освобождают свои слоты сами через отложенный release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	return p.engine.Close()
}
