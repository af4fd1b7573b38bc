// Package sessiontest provides in-memory windows for exercising report sessions without a browser.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/carextract/internal/services/session"
)

// Page scripts what a fake window shows for one URL
type Page struct {
	HTML string
	// LoadAfter is the number of ReadyState calls answering "loading" first
	LoadAfter int
	// Never leaves the page loading forever, producing a timeout
	Never bool
	// CloseAfter closes the window by itself after this many Closed polls (0 = never)
	CloseAfter int
	// OpenErr makes Open fail
	OpenErr error
}

// Opener serves scripted pages and checks that at most one window is open at a time
type Opener struct {
	mu      sync.Mutex
	pages   map[string]Page
	opened  []string
	open    int
	maxOpen int

	// Violations counts opens attempted while another window was still open
	Violations atomic.Int32
}

// NewOpener creates an opener serving pages keyed by full window URL
func NewOpener(pages map[string]Page) *Opener {
	return &Opener{pages: pages}
}

// Open implements session.WindowOpener
func (o *Opener) Open(ctx context.Context, url string) (session.Window, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	page, ok := o.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page scripted for %s", url)
	}
	if page.OpenErr != nil {
		return nil, page.OpenErr
	}

	if o.open > 0 {
		o.Violations.Add(1)
	}
	o.open++
	if o.open > o.maxOpen {
		o.maxOpen = o.open
	}
	o.opened = append(o.opened, url)

	return &Window{page: page, opener: o}, nil
}

// Opened returns the URLs opened so far in order
func (o *Opener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

// OpenNow returns the number of windows currently open
func (o *Opener) OpenNow() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

// MaxOpen returns the highest number of simultaneously open windows seen
func (o *Opener) MaxOpen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxOpen
}

func (o *Opener) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open--
}

// Window is a scripted session.Window
type Window struct {
	mu         sync.Mutex
	page       Page
	opener     *Opener
	readyCalls int
	closePolls int
	closed     bool
}

var errClosed = errors.New("window closed")

// ReadyState implements session.Window
func (w *Window) ReadyState(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", errClosed
	}
	w.readyCalls++
	if w.page.Never || w.readyCalls <= w.page.LoadAfter {
		return "loading", nil
	}
	return session.ReadyStateComplete, nil
}

// HTML implements session.Window
func (w *Window) HTML(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", errClosed
	}
	return w.page.HTML, nil
}

// Closed implements session.Window
func (w *Window) Closed(ctx context.Context) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return true
	}
	w.closePolls++
	selfClose := w.page.CloseAfter > 0 && w.closePolls >= w.page.CloseAfter
	w.mu.Unlock()

	if selfClose {
		_ = w.Close()
		return true
	}
	return false
}

// Close implements session.Window
func (w *Window) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.opener.release()
	return nil
}
