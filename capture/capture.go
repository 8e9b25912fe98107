// Package capture implements the microphone capture stage: it pulls
// fixed-size 32-bit I²S frames from an audiodev.Source, converts them to
// 16-bit PCM, accumulates 100ms chunks, and hands each chunk to a Sink.
package capture

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	va "github.com/pcomans/voice-assistant-device"
	"github.com/pcomans/voice-assistant-device/audiodev"
)

const (
	// ChunkSamples is the fixed 100ms-at-16kHz chunk size the sink is
	// invoked with.
	ChunkSamples = 1600
	// ChunkBytes is ChunkSamples expressed as 16-bit PCM bytes.
	ChunkBytes = ChunkSamples * 2
	// FrameSamples is a typical single I²S read size; the stage tolerates
	// any source frame size, accumulating across reads as needed. Exposed
	// so callers can size their audiodev.Source buffer to match.
	FrameSamples = 256
)

// Sink is the dynamic-dispatch capability a Stage delivers chunks to. A
// nil/zero-length chunk is the optional end-of-stream marker.
type Sink interface {
	Accept(chunk []byte)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(chunk []byte)

func (f SinkFunc) Accept(chunk []byte) { f(chunk) }

// Options configures a Stage.
type Options struct {
	// Gain enables the 10x gain path with saturating clip. Off by default.
	Gain bool
	// EmitEndMarker, if true, invokes the sink once with a nil chunk when
	// the read loop ends, signaling end-of-stream to the sink.
	EmitEndMarker bool
}

// Stage owns the capture goroutine. The zero value is not usable; use New.
type Stage struct {
	src  audiodev.Source
	opts Options
	log  *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a capture stage reading from src. A nil logger defaults to
// os.Stderr.
func New(src audiodev.Source, opts Options, logger *log.Logger) *Stage {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Stage{src: src, opts: opts, log: logger}
}

// Start spawns the capture goroutine, which reads frames from the source,
// converts and accumulates them, and invokes sink once per ChunkBytes.
// Start returns an error if the stage is already running.
func (s *Stage) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("capture: already running: %w", va.ErrInvalidArgument)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx, sink)
	return nil
}

// Stop cancels the capture goroutine and waits for it to exit. It is safe
// to call on a Stage that was never started.
func (s *Stage) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Stage) run(ctx context.Context, sink Sink) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.done)
	}()

	frame := make([]int32, FrameSamples)
	accum := make([]int16, 0, ChunkSamples)

	for {
		if ctx.Err() != nil {
			if s.opts.EmitEndMarker {
				sink.Accept(nil)
			}
			return
		}

		if err := s.src.ReadFrame(ctx, frame); err != nil {
			// A persistent read failure is not auto-recovered here; it
			// just reports zero throughput until Stop is called. Capture
			// never gives up on its own.
			if ctx.Err() != nil {
				if s.opts.EmitEndMarker {
					sink.Accept(nil)
				}
				return
			}
			s.log.Printf("capture: read error, skipping frame: %v", err)
			continue
		}

		for _, sample := range frame {
			accum = append(accum, s32ToS16(sample, s.opts.Gain))
			if len(accum) == ChunkSamples {
				sink.Accept(int16SliceToBytes(accum))
				accum = accum[:0]
			}
		}
	}
}

func int16SliceToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
