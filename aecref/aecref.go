// Package aecref implements the AEC reference buffer: a bounded,
// time-windowed ring of playback audio downsampled to 16kHz, fed by the
// playback tap and drained by the AEC processor as its "known echo" input.
package aecref

import (
	"context"
	"encoding/binary"
	"log"
	"os"

	"github.com/pcomans/voice-assistant-device/ring"
	"github.com/pcomans/voice-assistant-device/resample"
)

const (
	refRateHz = 16000
	// maxResampleChunk bounds a single Feed call; larger callers must
	// chunk themselves.
	maxResampleChunk = 4096
)

// Buffer is the bounded AEC reference ring. The zero value is not usable;
// use New.
type Buffer struct {
	ring *ring.Ring
	log  *log.Logger
}

// New creates a reference buffer sized to windowMs of 16kHz mono audio
// (e.g. 500ms -> 16,000 bytes).
func New(windowMs int, logger *log.Logger) *Buffer {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)
	}
	bytes := refRateHz * windowMs / 1000 * 2
	return &Buffer{
		ring: ring.New(bytes, 2),
		log:  logger,
	}
}

// Feed resamples pcm24k (mono 16-bit PCM at 24kHz) to 16kHz and
// non-blocking-pushes the result into the ring; overflow is dropped and
// logged at debug (here, Printf, since the standard logger has no debug
// level). pcm24k must be at most maxResampleChunk samples; a larger slice
// is truncated with a warning rather than rejected outright.
func (b *Buffer) Feed(pcm24k []int16) {
	if len(pcm24k) == 0 {
		return
	}
	if len(pcm24k) > maxResampleChunk {
		b.log.Printf("aecref: reference chunk of %d samples exceeds %d, truncating", len(pcm24k), maxResampleChunk)
		pcm24k = pcm24k[:maxResampleChunk]
	}

	samples16k := resample.Linear(pcm24k, 24000, refRateHz)
	if len(samples16k) == 0 {
		return
	}

	buf := make([]byte, len(samples16k)*2)
	for i, s := range samples16k {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	if _, err := b.ring.Push(context.Background(), buf, ring.Drop); err != nil {
		b.log.Printf("aecref: reference buffer full, dropping %d samples", len(samples16k))
	}
}

// Get returns exactly n samples. If fewer than n are available it copies
// what exists and zero-fills the remainder, returning false ("no
// reference" / silence / underrun); otherwise it returns true.
func (b *Buffer) Get(n int) ([]int16, bool) {
	out := make([]int16, n)
	if n == 0 {
		return out, true
	}

	raw := make([]byte, n*2)
	got, err := b.ring.PopUpTo(immediateCtx(), raw, n*2)
	if err != nil {
		got = 0
	}

	for i := 0; i < got/2; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	return out, got == n*2
}

// immediateCtx returns a context that is already done, so PopUpTo behaves
// as a non-blocking pop: it returns immediately with whatever is
// available (zero bytes counts as a timeout, which Get treats as "no
// reference" below the exact-n-samples threshold rather than as an error).
func immediateCtx() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
