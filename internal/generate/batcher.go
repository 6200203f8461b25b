package generate

import (
	"strings"
	"sync"
	"time"
)

// Batcher coalesces streamed deltas and forwards them to a sink once the
// buffer reaches maxBytes or interval has passed since the first buffered
// delta. Sink calls are serialised and keep delta order.
type Batcher struct {
	sink     func(string) error
	maxBytes int
	interval time.Duration

	mu    sync.Mutex
	buf   strings.Builder
	timer *time.Timer
	gen   int
	err   error
}

func NewBatcher(sink func(string) error, maxBytes int, interval time.Duration) *Batcher {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &Batcher{sink: sink, maxBytes: maxBytes, interval: interval}
}

// Write buffers delta. It returns the first sink error seen so far, which
// lets the caller abort the stream.
func (b *Batcher) Write(delta string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.buf.WriteString(delta)
	if b.buf.Len() >= b.maxBytes {
		b.flushLocked()
		return b.err
	}
	if b.timer == nil && b.interval > 0 {
		b.gen++
		gen := b.gen
		b.timer = time.AfterFunc(b.interval, func() { b.onTimer(gen) })
	}
	return nil
}

func (b *Batcher) onTimer(gen int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.timer == nil {
		return
	}
	b.timer = nil
	if b.err == nil {
		b.flushLocked()
	}
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.buf.Len() == 0 {
		return
	}
	text := b.buf.String()
	b.buf.Reset()
	if err := b.sink(text); err != nil {
		b.err = err
	}
}

// Close flushes what is left and returns the first sink error.
func (b *Batcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.flushLocked()
	} else if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return b.err
}
