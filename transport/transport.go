// Package transport implements the persistent, bidirectional, framed
// channel to the proxy endpoint: binary audio out, binary audio and JSON
// control messages in, over a client-dialed WebSocket connection with a
// dedicated reader goroutine dispatching to caller-supplied handlers.
package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	va "github.com/pcomans/voice-assistant-device"
)

// SendTimeout bounds every SendAudio call.
const SendTimeout = 5 * time.Second

// Options configures a Client.
type Options struct {
	// AuthToken, if non-empty, is sent as an Authorization header on dial.
	AuthToken string
	// Keepalive, if non-zero, sends a ping control frame on this interval
	// for as long as the connection is up. Zero disables keep-alive pings.
	Keepalive time.Duration
}

// ControlMessage is the JSON schema exchanged on text frames.
type ControlMessage struct {
	Type string `json:"type"`
}

const (
	controlSpeechStart = "speech_start"
	controlSpeechEnd   = "speech_end"
)

// Handlers groups the callbacks a Client invokes as frames arrive.
// Nil handlers are skipped.
type Handlers struct {
	// OnAudio receives binary frames (0x02) — assistant speech.
	OnAudio func(pcm []byte)
	// OnSpeechStart/OnSpeechEnd receive the corresponding control messages.
	OnSpeechStart func()
	OnSpeechEnd   func()
	// OnState receives connectivity transitions; code is the close-frame
	// status code (0 if not applicable, e.g. on a clean Close() by us).
	OnState func(connected bool, code int)
}

// Client owns one persistent connection to the proxy endpoint. Auto-
// reconnect is intentionally not implemented; callers drive explicit
// Connect calls and observe Handlers.OnState to decide when to retry.
type Client struct {
	url       string
	authToken string
	keepalive time.Duration
	log       *log.Logger
	h         Handlers

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Client targeting url. logger may be nil to use a default
// stderr logger.
func New(url string, h Handlers, opts Options, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Client{url: url, authToken: opts.AuthToken, keepalive: opts.Keepalive, h: h, log: logger}
}

// Connect dials the endpoint and starts the reader (and, if configured,
// keep-alive ping) goroutines. It blocks until the dial completes or ctx
// is done.
func (c *Client) Connect(ctx context.Context) error {
	var header http.Header
	if c.authToken != "" {
		header = http.Header{"Authorization": {c.authToken}}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	c.fireState(true, 0)

	c.wg.Add(1)
	go c.reader()

	if c.keepalive > 0 {
		c.wg.Add(1)
		go c.pingLoop(connCtx, conn)
	}
	return nil
}

// pingLoop sends a ping control frame every c.keepalive until ctx is
// canceled (on disconnect or Close) or a ping write fails.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(SendTimeout)); err != nil {
				c.log.Printf("transport: keepalive ping failed: %v", err)
				return
			}
		}
	}
}

// IsConnected reports whether the client currently believes it has a live
// connection. It is a plain mutex-guarded read, combined by callers with
// their own liveness expectations.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendAudio sends pcm as a single binary frame, bounded by SendTimeout (or
// ctx, whichever is tighter). Returns ErrNotConnected if no connection is
// active, or ErrTimeout if the write deadline elapses.
func (c *Client) SendAudio(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return va.ErrNotConnected
	}

	deadline := time.Now().Add(SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", va.ErrFatal)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return va.ErrTimeout
		}
		c.markDisconnected(0)
		return fmt.Errorf("transport: send audio: %w", va.ErrNotConnected)
	}
	return nil
}

// Close closes the connection and waits for the reader (and keep-alive)
// goroutines to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	c.markDisconnected(0)
	c.wg.Wait()
	return err
}

func (c *Client) markDisconnected(code int) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	if wasConnected {
		c.fireState(false, code)
	}
}

func (c *Client) fireState(connected bool, code int) {
	if c.h.OnState != nil {
		c.h.OnState(connected, code)
	}
}

func (c *Client) reader() {
	defer c.wg.Done()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			code := closeCode(err)
			c.markDisconnected(code)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if c.h.OnAudio != nil {
				c.h.OnAudio(data)
			}
		case websocket.TextMessage:
			c.handleControl(data)
		case websocket.PingMessage, websocket.PongMessage:
			// handled transparently by the underlying connection.
		default:
			c.log.Printf("transport: %v: unexpected opcode %d", va.ErrProtocol, msgType)
		}
	}
}

func (c *Client) handleControl(data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Printf("transport: %v: %v", va.ErrDecode, err)
		return
	}

	switch msg.Type {
	case controlSpeechStart:
		if c.h.OnSpeechStart != nil {
			c.h.OnSpeechStart()
		}
	case controlSpeechEnd:
		if c.h.OnSpeechEnd != nil {
			c.h.OnSpeechEnd()
		}
	default:
		c.log.Printf("transport: %v: unknown control message type %q", va.ErrProtocol, msg.Type)
	}
}

// closeCode extracts the big-endian u16 close code from a
// websocket.CloseError, or 0 if err is not one.
func closeCode(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return 0
}

// decodeCloseCode is exposed for tests that exercise the raw wire bytes
// rather than gorilla's parsed CloseError.
func decodeCloseCode(payload []byte) int {
	if len(payload) < 2 {
		return 0
	}
	return int(binary.BigEndian.Uint16(payload))
}
