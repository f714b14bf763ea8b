package manager

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// LogObserver receives one already-formatted line per call. Lines arrive in
// the order the underlying events occurred; there is no batching guarantee.
type LogObserver interface {
	OnLog(line string)
}

// StreamObserver receives streamed generation output. OnToken fires zero or
// more times with safe, non-empty chunks; exactly one of OnComplete or
// OnError terminates a streaming call.
type StreamObserver interface {
	OnToken(text string)
	OnComplete()
	OnError(message string)
}

// Bridge dispatches log lines and stream events to at most one registered
// observer each. It is safe to invoke from any goroutine or native worker
// thread; registration slots are guarded by a mutex distinct from the engine
// state, and the registered observer is read under that mutex for every
// dispatch. An observer panic is recovered and recorded through the
// unconditional zerolog sink; it never aborts the engine operation.
type Bridge struct {
	mu     sync.Mutex
	logObs LogObserver
	stream StreamObserver
	log    zerolog.Logger
}

// NewBridge constructs a Bridge whose secondary sink is the given logger.
func NewBridge(log zerolog.Logger) *Bridge {
	return &Bridge{log: log}
}

// SetLogObserver replaces the log observer. Passing nil unregisters.
func (b *Bridge) SetLogObserver(o LogObserver) {
	b.mu.Lock()
	b.logObs = o
	b.mu.Unlock()
}

// SetStreamObserver replaces the stream observer. Passing nil unregisters.
func (b *Bridge) SetStreamObserver(o StreamObserver) {
	b.mu.Lock()
	b.stream = o
	b.mu.Unlock()
}

// Clear drops both registrations. Called on shutdown.
func (b *Bridge) Clear() {
	b.mu.Lock()
	b.logObs = nil
	b.stream = nil
	b.mu.Unlock()
}

// Logf formats a line, writes it to the secondary sink, and forwards it to
// the registered log observer if any.
func (b *Bridge) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	b.log.Info().Msg(line)

	b.mu.Lock()
	obs := b.logObs
	b.mu.Unlock()
	if obs == nil {
		return
	}
	b.guard("onLog", func() { obs.OnLog(line) })
}

// Token forwards a safe output chunk to the stream observer.
func (b *Bridge) Token(text string) {
	b.mu.Lock()
	obs := b.stream
	b.mu.Unlock()
	if obs == nil {
		return
	}
	b.guard("onToken", func() { obs.OnToken(text) })
}

// Complete signals successful end of a streaming generation.
func (b *Bridge) Complete() {
	b.mu.Lock()
	obs := b.stream
	b.mu.Unlock()
	if obs == nil {
		return
	}
	b.guard("onComplete", func() { obs.OnComplete() })
}

// Error signals failed end of a streaming generation.
func (b *Bridge) Error(message string) {
	b.log.Error().Msg(message)

	b.mu.Lock()
	obs := b.stream
	b.mu.Unlock()
	if obs == nil {
		return
	}
	b.guard("onError", func() { obs.OnError(message) })
}

// guard runs an observer callback, swallowing panics after recording them.
func (b *Bridge) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("callback", name).Any("panic", r).Msg("observer panicked")
		}
	}()
	fn()
}
