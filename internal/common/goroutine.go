// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter atomic.Int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return goroutineCounter.Load()
}

// SafeGo runs a function in a goroutine with panic recovery.
// A panic inside an extraction loop or a window child is logged and the process keeps serving.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	goroutineCounter.Add(1)

	go func() {
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

// SafeGoWithContext is SafeGo that skips fn when ctx is already cancelled.
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name string, fn func()) {
	goroutineCounter.Add(1)

	go func() {
		defer recoverGoroutine(logger, name)

		if ctx.Err() != nil {
			if logger != nil {
				logger.Debug().Str("goroutine", name).Msg("Goroutine cancelled before start")
			}
			return
		}

		fn()
	}()
}

func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 4096)
	stackTrace := string(buf[:runtime.Stack(buf, false)])

	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
	}

	writeCrashLog(name, r, stackTrace)
}

// writeCrashLog records a recovered goroutine panic beside the fatal crash files.
func writeCrashLog(goroutineName string, panicVal interface{}, stackTrace string) {
	if CrashLogDir == "" {
		return
	}
	name := fmt.Sprintf("panic-%s-%s.log", goroutineName, time.Now().Format("2006-01-02T15-04-05"))
	body := fmt.Sprintf("goroutine: %s\npanic: %v\n\n%s\n", goroutineName, panicVal, stackTrace)
	_ = os.WriteFile(filepath.Join(CrashLogDir, name), []byte(body), 0644)
}
