// internal/recovery/recovery.go
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// ErrPanic marks an error produced from a recovered panic
var ErrPanic = errors.New("recovered panic")

// exit is swapped in tests
var exit = os.Exit

// HandlePanic should be deferred at the top of main() or goroutines.
// It logs panic details and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		reportFatal(r)
		exit(1)
	}
}

// HandlePanicFunc logs panic details, calls cleanup and exits with code 1.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		reportFatal(r)
		if cleanup != nil {
			cleanup()
		}
		exit(1)
	}
}

// Recover turns a panic into an error stored in *errp, for goroutines whose
// failure should end a session rather than the process:
//
//	func work() (err error) {
//		defer recovery.Recover(&err)
//		...
//	}
func Recover(errp *error) {
	if r := recover(); r != nil {
		slog.Error("recovered panic", "panic", r, "stack", string(debug.Stack()))
		if errp != nil {
			*errp = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}
}

func reportFatal(r any) {
	_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
}
