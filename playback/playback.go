// Package playback implements the speaker playback stage: a pre-buffered
// ring fed by the transport's received audio and drained continuously to
// an audiodev.Sink, with in-place volume scaling.
package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	va "github.com/pcomans/voice-assistant-device"
	"github.com/pcomans/voice-assistant-device/audiodev"
	"github.com/pcomans/voice-assistant-device/ring"
)

const (
	// RingBytes is the playback ring capacity (~2s @ 24kHz·16-bit·mono).
	RingBytes = 96 * 1024
	// PreBufferBytes is the minimum ring occupancy before the worker
	// begins writing to the sink (~500ms).
	PreBufferBytes = 24000
	// popChunkBytes bounds a single worker read.
	popChunkBytes = 4096

	streamingPopDeadline = 100 * time.Millisecond
	drainingPopDeadline  = 10 * time.Millisecond
	stopGrace            = 3 * time.Second
)

// State is the playback worker's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStreaming
	StateDraining
)

// EventKind identifies a playback lifecycle event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventCompleted
	EventError
)

// Event is delivered to the OnEvent callback.
type Event struct {
	Kind EventKind
	Err  error
}

// Stage owns the playback ring and worker goroutine. The zero value is not
// usable; use New.
type Stage struct {
	sink audiodev.Sink

	mu       sync.Mutex
	state    State
	ring     *ring.Ring
	cancel   context.CancelFunc
	done     chan struct{}
	onEvent  func(Event)
	volume   atomic.Int32 // percent, 0..100
}

// New creates a playback stage writing to sink. Initial volume is 100%.
func New(sink audiodev.Sink) *Stage {
	s := &Stage{sink: sink, state: StateStopped}
	s.volume.Store(100)
	return s
}

// OnEvent registers the lifecycle event callback. Not safe to call
// concurrently with StreamStart.
func (s *Stage) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// SetVolume sets the playback volume as an integer percentage in [0,100].
func (s *Stage) SetVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("playback: volume %d out of range: %w", percent, va.ErrInvalidArgument)
	}
	s.volume.Store(int32(percent))
	return nil
}

// ApplyVolume scales each sample of pcm in place by volume/100 using a
// 32-bit intermediate. No clipping is needed because volume is capped at
// 100.
func ApplyVolume(pcm []int16, percent int) {
	if percent == 100 {
		return
	}
	for i, s := range pcm {
		pcm[i] = int16(int32(s) * int32(percent) / 100)
	}
}

// State returns the current lifecycle state.
func (s *Stage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StreamStart allocates the playback ring and spawns the worker. It fails
// if a stream is already active.
func (s *Stage) StreamStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStopped {
		return fmt.Errorf("playback: stream already active: %w", va.ErrInvalidArgument)
	}

	s.ring = ring.NewLarge(RingBytes, 2)
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateStreaming

	go s.run(runCtx)
	return nil
}

// StreamWrite blocks, honoring ctx, until data has been enqueued in full.
// The network producer is expected to absorb backpressure, so this never
// drops.
func (s *Stage) StreamWrite(ctx context.Context, data []byte) error {
	s.mu.Lock()
	r := s.ring
	active := s.state == StateStreaming
	s.mu.Unlock()

	if !active || r == nil {
		return fmt.Errorf("playback: no active stream: %w", va.ErrNotReady)
	}

	_, err := r.Push(ctx, data, ring.Block)
	return err
}

// StreamEnd transitions to Draining; the worker keeps pulling from the
// ring until it empties, then exits and fires EventCompleted. StreamEnd
// waits up to stopGrace for the worker to finish; if it has not finished
// by then, the worker is canceled and StreamEnd waits for it to exit.
func (s *Stage) StreamEnd() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopGrace):
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		<-done
	}
}

func (s *Stage) fireEvent(ev Event) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (s *Stage) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(s.done)
	}()

	r := s.ring
	started := false

	for {
		if !started {
			for r.Len() < PreBufferBytes {
				s.mu.Lock()
				draining := s.state == StateDraining
				s.mu.Unlock()
				if draining {
					break
				}
				if ctx.Err() != nil {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}

		s.mu.Lock()
		draining := s.state == StateDraining
		s.mu.Unlock()

		deadline := streamingPopDeadline
		if draining {
			deadline = drainingPopDeadline
		}

		popCtx, cancel := context.WithTimeout(ctx, deadline)
		buf := make([]byte, popChunkBytes)
		n, err := r.PopUpTo(popCtx, buf, popChunkBytes)
		cancel()

		if n == 0 {
			if err != nil && ctx.Err() != nil {
				return
			}
			if draining && r.Len() == 0 {
				s.fireEvent(Event{Kind: EventCompleted})
				return
			}
			continue
		}

		if !started {
			started = true
			s.fireEvent(Event{Kind: EventStarted})
		}

		pcm := bytesToInt16Slice(buf[:n])
		ApplyVolume(pcm, int(s.volume.Load()))

		if err := s.sink.WriteFrame(ctx, pcm); err != nil {
			s.fireEvent(Event{Kind: EventError, Err: err})
			return
		}

		if draining && r.Len() == 0 {
			s.fireEvent(Event{Kind: EventCompleted})
			return
		}
	}
}

func bytesToInt16Slice(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}
