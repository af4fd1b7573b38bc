package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// window is a report tab. It implements session.Window.
type window struct {
	ctx        context.Context
	cancel     context.CancelFunc
	browserCtx context.Context
	targetID   target.ID
	url        string
	logger     arbor.ILogger
}

// evaluate runs script in the tab, bounded by evalTimeout and by the caller's ctx
func (w *window) evaluate(ctx context.Context, script string, res interface{}) error {
	runCtx, cancel := context.WithTimeout(w.ctx, evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.Evaluate(script, res))
}

func (w *window) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := w.evaluate(ctx, readyStateScript, &state)
	return state, err
}

func (w *window) HTML(ctx context.Context) (string, error) {
	var html string
	err := w.evaluate(ctx, outerHTMLScript, &html)
	return html, err
}

// Closed checks the browser's target list. An unreachable browser counts as closed.
func (w *window) Closed(ctx context.Context) bool {
	if w.ctx.Err() != nil {
		return true
	}

	listCtx, cancel := context.WithTimeout(w.browserCtx, evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	targets, err := chromedp.Targets(listCtx)
	if err != nil {
		if ctx.Err() != nil {
			// Caller gave up, not the window
			return false
		}
		w.logger.Debug().Err(err).Str("url", w.url).Msg("Failed to list browser targets")
		return w.browserCtx.Err() != nil
	}

	for _, t := range targets {
		if t.TargetID == w.targetID {
			return false
		}
	}
	return true
}

// Close closes the tab. The tab was created by this context, so cancelling it closes the target.
func (w *window) Close() error {
	if w.ctx.Err() != nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(w.ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(evalTimeout):
		w.cancel()
		return context.DeadlineExceeded
	}
}
