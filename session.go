// Package voiceassistant is the root package: the session controller
// ("Core") that owns every other component and drives the assistant state
// machine, plus the shared error taxonomy and in-process configuration.
package voiceassistant

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pcomans/voice-assistant-device/aec"
	"github.com/pcomans/voice-assistant-device/aecref"
	"github.com/pcomans/voice-assistant-device/audiodev"
	"github.com/pcomans/voice-assistant-device/capture"
	"github.com/pcomans/voice-assistant-device/identity"
	"github.com/pcomans/voice-assistant-device/playback"
	"github.com/pcomans/voice-assistant-device/transport"
)

// Core owns one microphone, one speaker, and one session end to end,
// passed by reference into every goroutine it spawns rather than held as
// process-wide mutable statics. Lifecycle: NewCore -> Start -> Stop.
type Core struct {
	cfg Config
	log *log.Logger

	transport *transport.Client
	playback  *playback.Stage
	capture   *capture.Stage
	aecProc   aec.Processor
	ref       *aecref.Buffer

	sessionID string

	mu            sync.Mutex
	state         AssistantState
	connected     bool
	wifiConnected bool
	micMuted      bool

	events chan UIEvent
	status chan Status
}

// NewCore wires every component together. src and sink are the I²S
// collaborators; store backs persistent identity; canceller is the
// optional AEC library binding (ignored unless cfg.AECEnabled).
func NewCore(cfg Config, src audiodev.Source, sink audiodev.Sink, store identity.Store, canceller aec.Canceller, logger *log.Logger) *Core {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)
	}

	c := &Core{
		cfg:    cfg,
		log:    logger,
		events: make(chan UIEvent, 4),
		status: make(chan Status, 8),
	}

	c.capture = capture.New(src, capture.Options{}, logger)
	c.playback = playback.New(sink)
	if err := c.playback.SetVolume(cfg.VolumePercent); err != nil {
		logger.Printf("core: initial volume rejected: %v", err)
	}

	if cfg.AECEnabled && canceller != nil {
		c.ref = aecref.New(cfg.AECReferenceWindowMs, logger)
		c.aecProc = aec.New(canceller, c.ref, logger)
	} else {
		c.aecProc = &aec.NullProcessor{}
	}

	c.sessionID = identity.Resolve(context.Background(), store)

	c.transport = transport.New(cfg.EndpointURL, transport.Handlers{
		OnAudio:       c.onPlaybackAudio,
		OnSpeechStart: c.onSpeechStart,
		OnSpeechEnd:   c.onSpeechEnd,
		OnState:       c.onTransportState,
	}, transport.Options{
		AuthToken: cfg.AuthToken,
		Keepalive: cfg.TransportKeepalive,
	}, logger)

	return c
}

// SessionID returns the persisted (or, on KV failure, ephemeral) session
// identifier resolved at construction.
func (c *Core) SessionID() string { return c.sessionID }

// Events returns the send-only channel the UI collaborator delivers
// RecordStart/RecordStop events into.
func (c *Core) Events() chan<- UIEvent { return c.events }

// StatusCh returns the receive-only channel the core publishes Status
// updates on, once per state change.
func (c *Core) StatusCh() <-chan Status { return c.status }

// Start connects the transport and begins processing UI events. It
// publishes an initial Status immediately (Idle, wifi not yet confirmed)
// and another once the transport connects.
func (c *Core) Start(ctx context.Context) error {
	c.publishStatus()

	c.aecProc.Start(transportSink{c})

	// A successful Connect fires OnState(true, 0), and onTransportState
	// records the connection and publishes the connected Status.
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("core: connect: %w", err)
	}

	go c.eventLoop(ctx)
	return nil
}

// SetWifiConnected lets the Wi-Fi collaborator (out of scope here) push
// connectivity transitions into the published Status.
func (c *Core) SetWifiConnected(connected bool) {
	c.mu.Lock()
	c.wifiConnected = connected
	c.mu.Unlock()
	c.publishStatus()
}

// Stop tears down every owned component. Safe to call once, after Start.
// The four teardown paths each block on their own drain/grace period
// (playback.StreamEnd alone waits up to stopGrace), so they run
// concurrently rather than paying that latency four times over.
func (c *Core) Stop() {
	var g errgroup.Group
	g.Go(func() error {
		c.capture.Stop()
		return nil
	})
	g.Go(func() error {
		if c.playback.State() != playback.StateStopped {
			c.playback.StreamEnd()
		}
		return nil
	})
	g.Go(func() error {
		c.aecProc.Stop()
		return nil
	})
	g.Go(func() error {
		return c.transport.Close()
	})
	_ = g.Wait()
}

func (c *Core) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Core) handleEvent(ctx context.Context, ev UIEvent) {
	switch ev {
	case RecordStart:
		c.mu.Lock()
		canStart := c.connected && c.state == Idle
		c.mu.Unlock()
		if !canStart {
			return
		}

		if c.playback.State() != playback.StateStopped {
			c.playback.StreamEnd()
		}
		if err := c.playback.StreamStart(); err != nil {
			c.log.Printf("core: playback stream start: %v", err)
			return
		}
		if err := c.capture.Start(ctx, capture.SinkFunc(c.onCaptureChunk)); err != nil {
			c.log.Printf("core: capture start: %v", err)
			return
		}
		c.setState(Streaming)

	case RecordStop:
		c.mu.Lock()
		wasStreaming := c.state == Streaming
		c.mu.Unlock()
		if !wasStreaming {
			return
		}
		c.capture.Stop()
		c.setState(Idle)
	}
}

// onCaptureChunk enforces the half-duplex mute: while micMuted is set, no
// chunk reaches the AEC feed / transport. Dropped chunks are not re-queued.
func (c *Core) onCaptureChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	muted := c.micMuted
	c.mu.Unlock()
	if muted {
		return
	}
	c.aecProc.Accept(chunk)
}

// onPlaybackAudio handles a received 24kHz binary frame: it taps the
// frame into the AEC reference buffer and enqueues it for I²S playback.
// The reference tap never blocks the playback worker — Feed is a
// non-blocking, drop-on-full push on its own ring.
func (c *Core) onPlaybackAudio(pcm []byte) {
	if c.ref != nil {
		// aecref.Buffer.Feed takes at most 4096 samples per call.
		samples := bytesToInt16(pcm)
		for off := 0; off < len(samples); off += 4096 {
			end := off + 4096
			if end > len(samples) {
				end = len(samples)
			}
			c.ref.Feed(samples[off:end])
		}
	}

	if c.playback.State() == playback.StateStopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TransportSendTimeout)
	defer cancel()
	if err := c.playback.StreamWrite(ctx, pcm); err != nil {
		c.log.Printf("core: playback write: %v", err)
	}
}

func (c *Core) onSpeechStart() {
	c.mu.Lock()
	c.micMuted = true
	c.mu.Unlock()
}

func (c *Core) onSpeechEnd() {
	c.mu.Lock()
	c.micMuted = false
	c.mu.Unlock()
}

// onTransportState implements the chosen disconnect policy: the
// half-duplex gate is cleared (a silent proxy can't end a turn it never
// started) and, if a session was actively streaming, the state moves to
// Error rather than silently reverting to Idle.
func (c *Core) onTransportState(connected bool, code int) {
	c.mu.Lock()
	c.connected = connected
	var stopCapture bool
	if !connected {
		c.micMuted = false
		if c.state == Streaming {
			c.state = Error
			stopCapture = true
		}
	}
	c.mu.Unlock()

	if stopCapture {
		c.capture.Stop()
	}
	c.publishStatus()
}

func (c *Core) setState(s AssistantState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.publishStatus()
}

func (c *Core) publishStatus() {
	c.mu.Lock()
	st := Status{State: c.state, WifiConnected: c.wifiConnected, ProxyConnected: c.connected}
	c.mu.Unlock()

	select {
	case c.status <- st:
	default:
		c.log.Printf("core: status channel full, dropping update")
	}
}

// transportSink sends each chunk through the Core's transport client. It
// implements aec.Sink so it can be wired as the AEC processor's (or
// NullProcessor's) downstream.
type transportSink struct{ core *Core }

func (t transportSink) Accept(chunk []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), t.core.cfg.TransportSendTimeout)
	defer cancel()
	if err := t.core.transport.SendAudio(ctx, chunk); err != nil {
		// Timeout and NotConnected are hot-path errors absorbed locally
		// per the error propagation policy. A Fatal error (a failed
		// write-deadline set) is logged the same way and does not change
		// the assistant state.
		t.core.log.Printf("core: send audio: %v", err)
	}
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}
