package renderer

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeEngine отрисовывает HTML в PDF через один долгоживущий процесс
// headless Chromium; каждая сессия — отдельная вкладка.
type ChromeEngine struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeEngine создаёт движок. Браузер запускается в Start.
func NewChromeEngine() *ChromeEngine {
	return &ChromeEngine{}
}

// Start находит и запускает Chromium.
func (e *ChromeEngine) Start(ctx context.Context) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		chromedp.DefaultExecAllocatorOptions[:]...)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Пустой Run запускает процесс браузера, чтобы ошибка запуска
	// проявилась сразу, а не на первой отрисовке.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch chromium: %w", err)
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	return nil
}

// NewSession открывает новую вкладку браузера.
func (e *ChromeEngine) NewSession(ctx context.Context) (Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	return &chromeSession{ctx: tabCtx, cancel: tabCancel}, nil
}

// Close завершает процесс браузера.
func (e *ChromeEngine) Close() error {
	if e.browserCancel != nil {
		e.browserCancel()
	}
	if e.allocCancel != nil {
		e.allocCancel()
	}
	return nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *chromeSession) Render(ctx context.Context, html string) ([]byte, error) {
	var pdf []byte

	err := chromedp.Run(s.ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return pdf, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
