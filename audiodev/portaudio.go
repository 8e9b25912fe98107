package audiodev

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource backs Source with the desktop's default input device,
// standing in for the I²S RX peripheral: same
// portaudio.OpenDefaultStream/Start/Read sequence as a typical PortAudio
// capture loop, generalized to the 32-bit sample width capture.Stage
// expects from a real I²S peripheral.
type PortAudioSource struct {
	stream *portaudio.Stream
	buffer []int32
}

// NewPortAudioSource opens the default input device at sampleRateHz,
// reading frameSamples samples per Read call (pass capture.FrameSamples
// to match capture.Stage's expectations).
func NewPortAudioSource(sampleRateHz, frameSamples int) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audiodev: portaudio init: %w", err)
	}

	buffer := make([]int32, frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRateHz), len(buffer), buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audiodev: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("audiodev: start input stream: %w", err)
	}

	return &PortAudioSource{stream: stream, buffer: buffer}, nil
}

// ReadFrame blocks for one hardware read cycle and copies the captured
// frame into dst, which must be the same length passed to
// NewPortAudioSource.
func (s *PortAudioSource) ReadFrame(ctx context.Context, dst []int32) error {
	if err := s.stream.Read(); err != nil {
		return fmt.Errorf("audiodev: read input stream: %w", err)
	}
	copy(dst, s.buffer)
	return nil
}

// Close stops the stream and releases PortAudio.
func (s *PortAudioSource) Close() error {
	defer portaudio.Terminate()
	if err := s.stream.Stop(); err != nil {
		return err
	}
	return s.stream.Close()
}

// PortAudioSink backs Sink with the desktop's default output device,
// standing in for the I²S TX peripheral.
type PortAudioSink struct {
	stream *portaudio.Stream
	buffer []int16
}

// NewPortAudioSink opens the default output device at sampleRateHz with a
// framesPerBuffer-sized int16 output buffer.
func NewPortAudioSink(sampleRateHz, framesPerBuffer int) (*PortAudioSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audiodev: portaudio init: %w", err)
	}

	buffer := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRateHz), len(buffer), buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audiodev: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("audiodev: start output stream: %w", err)
	}

	return &PortAudioSink{stream: stream, buffer: buffer}, nil
}

// WriteFrame writes pcm to the output device in buffer-sized slices,
// zero-padding a final short slice.
func (s *PortAudioSink) WriteFrame(ctx context.Context, pcm []int16) error {
	for off := 0; off < len(pcm); off += len(s.buffer) {
		n := copy(s.buffer, pcm[off:])
		for i := n; i < len(s.buffer); i++ {
			s.buffer[i] = 0
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("audiodev: write output stream: %w", err)
		}
	}
	return nil
}

// Close stops the stream and releases PortAudio.
func (s *PortAudioSink) Close() error {
	defer portaudio.Terminate()
	if err := s.stream.Stop(); err != nil {
		return err
	}
	return s.stream.Close()
}
