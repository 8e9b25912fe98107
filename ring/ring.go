// Package ring implements the bounded byte ring used by the audio stages:
// the AEC reference buffer drops on full, the playback stage blocks its
// producer. It expresses a fixed-capacity circular byte buffer with a
// slice, a mutex and a condition variable, with the full-ring behavior
// selected per Push call.
package ring

import (
	"context"
	"fmt"
	"sync"

	va "github.com/pcomans/voice-assistant-device"
)

// Mode selects the push behavior when the ring has insufficient free space.
type Mode int

const (
	// Drop makes Push return 0 immediately instead of waiting.
	Drop Mode = iota
	// Block makes Push wait, honoring ctx cancellation/deadline, for
	// enough free space to appear.
	Block
)

// Ring is a capacity-bounded byte store. The zero value is not usable; use
// New or NewLarge.
type Ring struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf   []byte
	head  int // next byte to read
	size  int // bytes currently stored
	cap   int
	ready bool

	sampleSize int
	dropped    uint64
}

// New creates a ring with the given byte capacity. sampleSize is the unit
// pushes/pops must be a multiple of (2 for 16-bit PCM); pass 1 to disable
// the alignment check.
func New(capacityBytes, sampleSize int) *Ring {
	r := &Ring{
		buf:        make([]byte, capacityBytes),
		cap:        capacityBytes,
		sampleSize: sampleSize,
		ready:      true,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// NewLarge is the choke point for buffers that must come from a dedicated
// large-memory region on real hardware (≥32KB, e.g. the playback ring). Go
// has no SPIRAM-style heap-cap API to fail loud against, so this simply
// delegates to New; an embedded build would swap the allocator here.
func NewLarge(capacityBytes, sampleSize int) *Ring {
	return New(capacityBytes, sampleSize)
}

// Len returns the number of bytes currently stored.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the ring's total byte capacity.
func (r *Ring) Cap() int {
	return r.cap
}

// Free returns the number of free bytes.
func (r *Ring) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cap - r.size
}

// Dropped returns the cumulative number of bytes discarded by drop-on-full
// pushes.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset drops all buffered bytes.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
	r.cond.Broadcast()
}

func (r *Ring) checkAligned(n int) error {
	if r.sampleSize > 1 && n%r.sampleSize != 0 {
		return fmt.Errorf("ring: %d bytes is not a multiple of sample size %d: %w", n, r.sampleSize, va.ErrInvalidArgument)
	}
	return nil
}

// Push enqueues data according to mode. In Drop mode it returns
// (0, ErrFull) if the ring lacks free space for the entire payload — it
// never partially enqueues. In Block mode it waits (honoring ctx) until
// enough space is free, then enqueues entirely; ctx expiring returns
// (0, ErrTimeout). Pushing a byte count that is not a multiple of the
// configured sample size is rejected with ErrInvalidArgument so that every
// successful push preserves sample alignment for poppers.
func (r *Ring) Push(ctx context.Context, data []byte, mode Mode) (int, error) {
	if !r.ready {
		return 0, va.ErrNotReady
	}
	if err := r.checkAligned(len(data)); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if len(data) > r.cap {
		return 0, fmt.Errorf("ring: payload of %d bytes exceeds capacity %d: %w", len(data), r.cap, va.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cap-r.size < len(data) && mode == Drop {
		r.dropped += uint64(len(data))
		return 0, va.ErrFull
	}

	if r.cap-r.size < len(data) {
		stop := r.watchCtx(ctx)
		defer stop()
		for r.cap-r.size < len(data) {
			if ctx.Err() != nil {
				return 0, va.ErrTimeout
			}
			r.cond.Wait()
		}
	}

	tail := (r.head + r.size) % r.cap
	n := copy(r.buf[tail:], data)
	if n < len(data) {
		copy(r.buf, data[n:])
	}
	r.size += len(data)
	r.cond.Broadcast()
	return len(data), nil
}

// PopUpTo reads at most maxBytes into dst (which must have length >=
// maxBytes) and returns the bytes actually read. It never tears a sample:
// every push is sample-aligned, and maxBytes is rounded down to a multiple
// of the sample size, so every pop is sample-aligned too. It blocks until
// at least one byte is available or ctx is done, in which case it returns
// (0, ErrTimeout). A maxBytes of 0 (or, after rounding, less than one
// sample) returns (0, nil) immediately.
func (r *Ring) PopUpTo(ctx context.Context, dst []byte, maxBytes int) (int, error) {
	if !r.ready {
		return 0, va.ErrNotReady
	}
	if maxBytes == 0 {
		return 0, nil
	}
	if maxBytes > len(dst) {
		maxBytes = len(dst)
	}
	if r.sampleSize > 1 {
		maxBytes -= maxBytes % r.sampleSize
		if maxBytes == 0 {
			return 0, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		stop := r.watchCtx(ctx)
		defer stop()
		for r.size == 0 {
			if ctx.Err() != nil {
				return 0, va.ErrTimeout
			}
			r.cond.Wait()
		}
	}

	n := maxBytes
	if n > r.size {
		n = r.size
	}
	first := copy(dst[:n], r.buf[r.head:])
	if first < n {
		copy(dst[first:n], r.buf[:n-first])
	}
	r.head = (r.head + n) % r.cap
	r.size -= n
	r.cond.Broadcast()
	return n, nil
}

// watchCtx starts a goroutine that broadcasts on r.cond once ctx is done,
// waking any Push/Pop blocked in cond.Wait so it can observe ctx.Err().
// The returned stop func must be called (with r.mu still held, as both
// callers do via defer) once the caller leaves its wait loop.
func (r *Ring) watchCtx(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.cond.Broadcast()
		case <-done:
		}
	}()
	return func() { close(done) }
}
