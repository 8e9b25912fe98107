package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pcomans/voice-assistant-device/audiodev"
)

func TestS32ToS16ArithmeticShift(t *testing.T) {
	cases := []struct {
		in   int32
		want int16
	}{
		{0, 0},
		{1 << 14, 1},
		{-(1 << 14), -1},
		{1 << 20, 1 << 6},
		{-(1 << 20), -(1 << 6)},
	}
	for _, c := range cases {
		if got := s32ToS16(c.in, false); got != c.want {
			t.Fatalf("s32ToS16(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestS32ToS16GainSaturates(t *testing.T) {
	if got := s32ToS16(1<<30, true); got != 32767 {
		t.Fatalf("s32ToS16 with gain overflow = %d, want 32767", got)
	}
	if got := s32ToS16(-(1 << 30), true); got != -32768 {
		t.Fatalf("s32ToS16 with gain underflow = %d, want -32768", got)
	}
}

// constantSource feeds a fixed int32 value forever until ctx is canceled.
type constantSource struct {
	value int32
}

func (c constantSource) ReadFrame(ctx context.Context, dst []int32) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	for i := range dst {
		dst[i] = c.value
	}
	return nil
}

// Testable Property 3: capture chunking — sink invoked with chunks of
// exactly ChunkBytes, except possibly a trailing zero-length terminator.
func TestChunksAreExactlyChunkBytes(t *testing.T) {
	stage := New(constantSource{value: 1 << 16}, Options{}, nil)

	var mu sync.Mutex
	var sizes []int
	sink := SinkFunc(func(chunk []byte) {
		mu.Lock()
		sizes = append(sizes, len(chunk))
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := stage.Start(ctx, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cancel()
	stage.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) == 0 {
		t.Fatal("sink was never invoked")
	}
	for _, sz := range sizes {
		if sz != ChunkBytes {
			t.Fatalf("sink invoked with %d bytes, want %d", sz, ChunkBytes)
		}
	}
}

func TestStartTwiceFails(t *testing.T) {
	stage := New(constantSource{}, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stage.Start(ctx, SinkFunc(func([]byte) {})); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	defer stage.Stop()

	if err := stage.Start(ctx, SinkFunc(func([]byte) {})); err == nil {
		t.Fatal("second Start() on a running stage should fail")
	}
}

func TestEndMarkerEmittedOnStop(t *testing.T) {
	stage := New(constantSource{value: 1 << 16}, Options{EmitEndMarker: true}, nil)

	var mu sync.Mutex
	var lastNil bool
	sink := SinkFunc(func(chunk []byte) {
		mu.Lock()
		lastNil = chunk == nil
		mu.Unlock()
	})

	ctx := context.Background()
	if err := stage.Start(ctx, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	stage.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !lastNil {
		t.Fatal("expected a final nil chunk marking end of stream")
	}
}

func TestNoEndMarkerByDefault(t *testing.T) {
	stage := New(constantSource{value: 1 << 16}, Options{}, nil)

	var mu sync.Mutex
	sawNil := false
	sink := SinkFunc(func(chunk []byte) {
		mu.Lock()
		if chunk == nil {
			sawNil = true
		}
		mu.Unlock()
	})

	ctx := context.Background()
	if err := stage.Start(ctx, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	stage.Stop()

	mu.Lock()
	defer mu.Unlock()
	if sawNil {
		t.Fatal("end-of-stream marker should not be emitted when disabled")
	}
}

func TestStopIsSafeWithoutStart(t *testing.T) {
	stage := New(constantSource{}, Options{}, nil)
	stage.Stop() // must not panic or block
}

// failingSource always errors until canceled, simulating a persistent I²S
// read failure.
type failingSource struct{}

func (failingSource) ReadFrame(ctx context.Context, dst []int32) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("simulated read failure")
}

// A persistent read failure must not end the capture goroutine: it keeps
// retrying (reporting zero throughput) until Stop is called explicitly.
func TestPersistentReadErrorDoesNotStopCapture(t *testing.T) {
	stage := New(failingSource{}, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := stage.Start(ctx, SinkFunc(func([]byte) {})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	stage.mu.Lock()
	running := stage.running
	stage.mu.Unlock()
	if !running {
		t.Fatal("capture goroutine exited on its own after a read error, want it still running")
	}

	cancel()
	stage.Stop()
}

var _ audiodev.Source = constantSource{}
var _ audiodev.Source = failingSource{}
