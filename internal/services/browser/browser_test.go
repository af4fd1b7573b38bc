package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/carextract/internal/common"
	"github.com/ternarybob/carextract/internal/services/session"
)

func TestFileListing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listing.html")
	require.NoError(t, os.WriteFile(path, []byte(`<a href="/r/1">CAR-1</a>`), 0o644))

	html, base, err := FileListing{Path: path, BaseURL: "https://example.test/list"}.Listing(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, "CAR-1")
	assert.Equal(t, "https://example.test/list", base)

	_, _, err = FileListing{Path: filepath.Join(t.TempDir(), "missing.html")}.Listing(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = FileListing{Path: path}.Listing(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListingRequiresURL(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Listing.URL = ""
	svc := NewService(&config.Browser, &config.Listing, arbor.NewLogger())

	_, _, err := svc.Listing(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, svc.IsInitialized())
}

func TestShutdownBeforeInit(t *testing.T) {
	config := common.NewDefaultConfig()
	svc := NewService(&config.Browser, &config.Listing, arbor.NewLogger())
	assert.NoError(t, svc.Shutdown())
}

func TestFirstRun_SuccessLeavesContextAlive(t *testing.T) {
	allocCtx, abort := context.WithCancel(context.Background())
	defer abort()

	err := firstRun(context.Background(), 20*time.Millisecond, abort, func() error { return nil })
	require.NoError(t, err)

	// Nothing may cancel the allocating context once the first run has returned
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, allocCtx.Err())
}

func TestFirstRun_TimeoutAborts(t *testing.T) {
	allocCtx, abort := context.WithCancel(context.Background())
	defer abort()

	err := firstRun(context.Background(), 20*time.Millisecond, abort, func() error {
		<-allocCtx.Done()
		return allocCtx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, allocCtx.Err(), context.Canceled)
}

func TestFirstRun_CallerCancelAborts(t *testing.T) {
	allocCtx, abort := context.WithCancel(context.Background())
	defer abort()
	caller, cancelCaller := context.WithCancel(context.Background())

	err := firstRun(caller, time.Minute, abort, func() error {
		cancelCaller()
		<-allocCtx.Done()
		return allocCtx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Error(t, allocCtx.Err())
}

func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("chrome not installed")
	return ""
}

func TestBrowserOpensReportWindow(t *testing.T) {
	execPath := findChrome(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table><tr><td><a href="/report/1">CAR-1</a></td></tr></table></body></html>`)
	})
	mux.HandleFunc("/report/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="details-label">Status</div><div class="staticText">Open</div></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	config := common.NewDefaultConfig()
	config.Browser.ExecPath = execPath
	config.Browser.Headless = true
	config.Browser.NoSandbox = true
	config.Browser.UserDataDir = ""
	config.Listing.URL = server.URL + "/list"
	config.Listing.SettleDelay = 0

	svc := NewService(&config.Browser, &config.Listing, arbor.NewLogger())
	defer svc.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	html, location, err := svc.Listing(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "CAR-1")
	assert.Equal(t, server.URL+"/list", location)

	win, err := svc.Open(ctx, server.URL+"/report/1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		state, err := win.ReadyState(ctx)
		return err == nil && state == session.ReadyStateComplete
	}, 20*time.Second, 200*time.Millisecond)

	page, err := win.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, page, "staticText")
	assert.False(t, win.Closed(ctx))

	require.NoError(t, win.Close())
	assert.True(t, win.Closed(ctx))

	// Chrome outlives the calls that started it
	time.Sleep(500 * time.Millisecond)
	html, _, err = svc.Listing(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "CAR-1")

	second, err := svc.Open(ctx, server.URL+"/report/1")
	require.NoError(t, err)
	time.Sleep(500 * time.Millisecond)
	assert.False(t, second.Closed(ctx))
	require.NoError(t, second.Close())
}
