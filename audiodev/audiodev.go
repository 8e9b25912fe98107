// Package audiodev defines the driver-level collaborators capture and
// playback depend on: the I²S RX/TX boundary. cmd/device and
// cmd/simulator back these with the github.com/gordonklaus/portaudio
// adapters in portaudio.go; tests back them with in-memory fakes.
package audiodev

import "context"

// Source is the I²S RX collaborator. ReadFrame blocks until exactly
// len(dst) int32 samples have been captured (one slot of a possibly
// multi-slot I²S frame) or ctx is done.
type Source interface {
	ReadFrame(ctx context.Context, dst []int32) error
}

// Sink is the I²S TX collaborator. WriteFrame blocks until pcm has been
// handed to the driver or ctx is done. pcm is 16-bit signed PCM at the
// sink's configured rate.
type Sink interface {
	WriteFrame(ctx context.Context, pcm []int16) error
}

// SourceFunc adapts a plain function to a Source.
type SourceFunc func(ctx context.Context, dst []int32) error

func (f SourceFunc) ReadFrame(ctx context.Context, dst []int32) error { return f(ctx, dst) }

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(ctx context.Context, pcm []int16) error

func (f SinkFunc) WriteFrame(ctx context.Context, pcm []int16) error { return f(ctx, pcm) }
