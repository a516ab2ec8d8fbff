package recovery

import (
	"runtime/debug"

	"github.com/lexora/legal-marketplace-api/shared/monitoring"
)

// PanicHandler handles panic recovery
type PanicHandler struct {
	onPanic  func(recovered interface{}, stack []byte)
	logStack bool
}

// Option configures PanicHandler
type Option func(*PanicHandler)

// WithPanicCallback sets a callback for when panic occurs
func WithPanicCallback(fn func(recovered interface{}, stack []byte)) Option {
	return func(ph *PanicHandler) {
		ph.onPanic = fn
	}
}

// WithStackLogging enables stack trace capture
func WithStackLogging(enabled bool) Option {
	return func(ph *PanicHandler) {
		ph.logStack = enabled
	}
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(opts ...Option) *PanicHandler {
	ph := &PanicHandler{
		logStack: true,
	}

	for _, opt := range opts {
		opt(ph)
	}

	return ph
}

// Guard runs fn and converts a panic into the onPanic callback, reporting
// whether a panic occurred. It is used at the frame-dispatch boundary so a
// handler panic never reaches the transport.
func (ph *PanicHandler) Guard(component string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			var stack []byte
			if ph.logStack {
				stack = debug.Stack()
			}
			monitoring.CapturePanic(r, map[string]string{"component": component})
			if ph.onPanic != nil {
				ph.onPanic(r, stack)
			}
		}
	}()

	fn()
	return false
}
