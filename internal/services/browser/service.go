// -----------------------------------------------------------------------
// Browser - Chrome driven over the DevTools protocol
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/services/session"
)

const (
	readyStateScript = "document.readyState"
	outerHTMLScript  = "document.documentElement.outerHTML"

	// evalTimeout bounds a single script evaluation in a report window
	evalTimeout = 5 * time.Second
	// shutdownTimeout bounds Chrome teardown
	shutdownTimeout = 30 * time.Second
)

// ErrNotConfigured is returned by Listing when no listing URL is set
var ErrNotConfigured = errors.New("listing url is not configured")

// Service owns one Chrome instance. The first tab shows the listing page;
// report windows are opened as additional tabs of the same browser so they
// share the logged-in profile.
type Service struct {
	config  *common.BrowserConfig
	listing *common.ListingConfig
	logger  arbor.ILogger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	initialized   bool
}

// NewService creates a browser service. Chrome is started lazily on first use.
func NewService(config *common.BrowserConfig, listing *common.ListingConfig, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		listing: listing,
		logger:  logger,
	}
}

// allocatorOptions builds the Chrome command line
func (s *Service) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("disable-gpu", s.config.DisableGPU),
		chromedp.Flag("no-sandbox", s.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		// Report windows sit behind the listing tab; keep their timers running
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)

	if s.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.config.UserAgent))
	}
	if s.config.WindowWidth > 0 && s.config.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(s.config.WindowWidth, s.config.WindowHeight))
	}
	if s.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ExecPath))
	}
	// The profile holds the report site's login session
	if s.config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(s.config.UserDataDir))
	}

	return opts
}

// Init starts Chrome and checks that it responds. Calling Init again is a no-op.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

func (s *Service) initLocked(ctx context.Context) error {
	if s.initialized {
		return nil
	}

	startTime := time.Now()

	// Chrome must outlive the request that triggered startup
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			s.logger.Debug().Msgf("chromedp: "+format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			s.logger.Debug().Msgf("chromedp error: "+format, args...)
		}),
	)

	shutdown := func() {
		browserCancel()
		allocCancel()
	}

	// The first Run starts the Chrome process under browserCtx itself
	var title string
	err := firstRun(ctx, time.Duration(s.config.StartupTimeout), shutdown, func() error {
		return chromedp.Run(browserCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title))
	})
	if err != nil {
		shutdown()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocCancel = allocCancel
	s.initialized = true

	s.logger.Info().
		Bool("headless", s.config.Headless).
		Str("user_data_dir", s.config.UserDataDir).
		Str("startup_time", time.Since(startTime).Round(time.Millisecond).String()).
		Msg("Browser started")

	return nil
}

func (s *Service) browser(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(ctx); err != nil {
		return nil, err
	}
	return s.browserCtx, nil
}

// IsInitialized reports whether Chrome is running
func (s *Service) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Listing loads the configured listing page in the primary tab and returns its HTML and final URL
func (s *Service) Listing(ctx context.Context) (string, string, error) {
	if strings.TrimSpace(s.listing.URL) == "" {
		return "", "", ErrNotConfigured
	}

	browserCtx, err := s.browser(ctx)
	if err != nil {
		return "", "", err
	}

	runCtx, cancel := context.WithTimeout(browserCtx, time.Duration(s.listing.LoadTimeout))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.logger.Info().Str("url", s.listing.URL).Msg("Loading listing page")

	var html, location string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(s.listing.URL),
		chromedp.ActionFunc(waitReadyStateComplete),
		chromedp.Sleep(time.Duration(s.listing.SettleDelay)),
		chromedp.Evaluate(outerHTMLScript, &html),
		chromedp.Location(&location),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to load listing page %s: %w", s.listing.URL, err)
	}

	return html, location, nil
}

// Open opens url in a new tab without waiting for it to load
func (s *Service) Open(ctx context.Context, url string) (session.Window, error) {
	browserCtx, err := s.browser(ctx)
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)

	// The first Run attaches the tab's event loop to tabCtx, so it must not carry a deadline.
	// Assigning location returns immediately; load progress is polled by the session.
	script := fmt.Sprintf("window.location.href = %q", url)
	err = firstRun(ctx, time.Duration(s.config.StartupTimeout), tabCancel, func() error {
		return chromedp.Run(tabCtx, chromedp.Evaluate(script, nil))
	})
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open report window %s: %w", url, err)
	}

	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		return nil, fmt.Errorf("tab for %s has no target", url)
	}

	return &window{
		ctx:        tabCtx,
		cancel:     tabCancel,
		browserCtx: browserCtx,
		targetID:   c.Target.TargetID,
		url:        url,
		logger:     s.logger,
	}, nil
}

// firstRun performs a chromedp allocation without putting a deadline on the
// allocating context. chromedp binds the browser process and each tab's event
// loop to the context of the first Run, so a timeout there would tear them down
// as soon as the call returned. Exceeding timeout or cancelling caller invokes
// abort instead, which cancels the allocating context from outside.
func firstRun(caller context.Context, timeout time.Duration, abort context.CancelFunc, run func() error) error {
	timer := time.AfterFunc(timeout, abort)
	stop := context.AfterFunc(caller, abort)

	err := run()

	timedOut := !timer.Stop()
	aborted := !stop()
	switch {
	case timedOut:
		return fmt.Errorf("no response within %s: %w", timeout, context.DeadlineExceeded)
	case aborted:
		return caller.Err()
	}
	return err
}

// Shutdown closes Chrome, waiting at most shutdownTimeout
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	done := make(chan struct{})
	go func() {
		if err := chromedp.Cancel(s.browserCtx); err != nil {
			s.logger.Debug().Err(err).Msg("Browser did not close gracefully")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn().Msg("Browser shutdown timed out, forcing cleanup")
	}

	s.browserCancel()
	s.allocCancel()
	s.initialized = false

	s.logger.Info().Msg("Browser shut down")
	return nil
}

func waitReadyStateComplete(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		var state string
		if err := chromedp.Evaluate(readyStateScript, &state).Do(ctx); err == nil &&
			strings.EqualFold(strings.TrimSpace(state), session.ReadyStateComplete) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
