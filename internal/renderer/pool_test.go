package renderer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fakeEngine считает одновременно открытые сессии.
type fakeEngine struct {
	mu          sync.Mutex
	active      int
	maxActive   int
	renderDelay time.Duration
	renderErr   error
	sessionErr  error
	closed      bool
}

func (e *fakeEngine) Start(ctx context.Context) error { return nil }

func (e *fakeEngine) NewSession(ctx context.Context) (Session, error) {
	if e.sessionErr != nil {
		return nil, e.sessionErr
	}

	e.mu.Lock()
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	e.mu.Unlock()

	return &fakeSession{engine: e}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

type fakeSession struct {
	engine *fakeEngine
	once   sync.Once
}

func (s *fakeSession) Render(ctx context.Context, html string) ([]byte, error) {
	if s.engine.renderDelay > 0 {
		time.Sleep(s.engine.renderDelay)
	}
	if s.engine.renderErr != nil {
		return nil, s.engine.renderErr
	}
	return []byte("%PDF-" + html), nil
}

func (s *fakeSession) Close() error {
	s.once.Do(func() {
		s.engine.mu.Lock()
		s.engine.active--
		s.engine.mu.Unlock()
	})
	return nil
}

func TestRender_BeforeInitPanics(t *testing.T) {
	pool := NewPool(&fakeEngine{}, 2, zap.NewNop())

	assert.Panics(t, func() {
		_, _ = pool.Render(context.Background(), "<html></html>")
	})
}

func TestRender_NeverExceedsLimit(t *testing.T) {
	const (
		maxSessions = 4
		requests    = 32
	)

	engine := &fakeEngine{renderDelay: 5 * time.Millisecond}
	pool := NewPool(engine, maxSessions, zap.NewNop())
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			_, err := pool.Render(ctx, "<p>receipt</p>")
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, engine.maxActive, maxSessions,
		"concurrent sessions must never exceed the configured maximum")
	assert.Equal(t, 0, engine.active, "all sessions must be released")
}

func TestRender_WrapsEngineError(t *testing.T) {
	engine := &fakeEngine{renderErr: errors.New("page crashed")}
	pool := NewPool(engine, 1, zap.NewNop())
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	_, err := pool.Render(context.Background(), "<p>boom</p>")
	require.ErrorIs(t, err, ErrRender)
	assert.Contains(t, err.Error(), "page crashed")
}

func TestRender_ReleasesSlotOnFailure(t *testing.T) {
	engine := &fakeEngine{renderErr: errors.New("page crashed")}
	pool := NewPool(engine, 1, zap.NewNop())
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	// Два последовательных отказа: если бы слот протекал, второй вызов
	// завис бы в ожидании.
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := pool.Render(ctx, "<p></p>")
		cancel()
		require.ErrorIs(t, err, ErrRender)
	}

	assert.Equal(t, 0, engine.active)
}

func TestRender_AcquireHonorsContext(t *testing.T) {
	engine := &fakeEngine{renderDelay: 200 * time.Millisecond}
	pool := NewPool(engine, 1, zap.NewNop())
	require.NoError(t, pool.Init(context.Background()))
	defer pool.Close()

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = pool.Render(context.Background(), "<p>slow</p>")
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pool.Render(ctx, "<p>waiting</p>")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_KeepsInFlightSlotAccounting(t *testing.T) {
	engine := &fakeEngine{renderDelay: 50 * time.Millisecond}
	pool := NewPool(engine, 2, zap.NewNop())
	require.NoError(t, pool.Init(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = pool.Render(context.Background(), "<p>in flight</p>")
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, pool.Close())
	<-done

	// Отложенный release отрисовки в полёте не должен увести счётчик
	// в минус после закрытия пула.
	pool.mu.Lock()
	inUse := pool.inUse
	pool.mu.Unlock()
	assert.Equal(t, 0, inUse)
}

func TestClose_StopsEngine(t *testing.T) {
	engine := &fakeEngine{}
	pool := NewPool(engine, 1, zap.NewNop())
	require.NoError(t, pool.Init(context.Background()))

	require.NoError(t, pool.Close())
	assert.True(t, engine.closed)
}
