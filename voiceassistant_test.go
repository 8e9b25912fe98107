package voiceassistant

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/pcomans/voice-assistant-device/identity"
)

type fakeSource struct{ value int32 }

func (f fakeSource) ReadFrame(ctx context.Context, dst []int32) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(16 * time.Millisecond):
	}
	for i := range dst {
		dst[i] = f.value
	}
	return nil
}

type fakeSink struct {
	mu    sync.Mutex
	bytes int
}

func (s *fakeSink) WriteFrame(ctx context.Context, pcm []int16) error {
	s.mu.Lock()
	s.bytes += len(pcm) * 2
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) totalBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// fakeProxy is a minimal stand-in for the remote endpoint, driven directly
// by each test via the returned *websocket.Conn.
func fakeProxy(t *testing.T) (url string, accept func() *websocket.Conn) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	connCh := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), func() *websocket.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("proxy never accepted a connection")
			return nil
		}
	}
}

func newTestCore(url string, src fakeSource, sink *fakeSink) *Core {
	cfg := DefaultConfig()
	cfg.EndpointURL = url
	return NewCore(cfg, src, sink, identity.NewMemStore(), nil, log.New(io.Discard, "", 0))
}

// Startup publishes Idle status immediately, then again once Wi-Fi and the proxy connect.
func TestStartupPublishesIdleStatus(t *testing.T) {
	url, accept := fakeProxy(t)
	core := newTestCore(url, fakeSource{}, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, core.Start(ctx))
	defer core.Stop()

	proxyConn := accept()
	defer proxyConn.Close()

	first := <-core.StatusCh()
	require.Equal(t, Idle, first.State)
	require.False(t, first.WifiConnected)

	second := <-core.StatusCh()
	require.Equal(t, Idle, second.State)
	require.True(t, second.ProxyConnected)

	core.SetWifiConnected(true)
	third := <-core.StatusCh()
	require.True(t, third.WifiConnected)
	require.Equal(t, Idle, third.State)
}

// A full record-start/record-stop cycle streams fixed-size 3200-byte chunks to the proxy.
func TestRecordCycleStreamsFixedSizeChunks(t *testing.T) {
	url, accept := fakeProxy(t)
	core := newTestCore(url, fakeSource{value: 1 << 16}, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, core.Start(ctx))
	defer core.Stop()

	proxyConn := accept()
	defer proxyConn.Close()

	var mu sync.Mutex
	var frames [][]byte
	go func() {
		for {
			mt, data, err := proxyConn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				mu.Lock()
				frames = append(frames, data)
				mu.Unlock()
			}
		}
	}()

	core.Events() <- RecordStart
	time.Sleep(1 * time.Second)
	core.Events() <- RecordStop
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	n := len(frames)
	for _, f := range frames {
		require.Len(t, f, 3200)
	}
	mu.Unlock()

	require.GreaterOrEqual(t, n, 9)
}

// Between speech_start and speech_end, no captured audio reaches the proxy, while playback keeps flowing to the speaker.
func TestSpeechWindowSuppressesUplinkAudio(t *testing.T) {
	url, accept := fakeProxy(t)
	sink := &fakeSink{}
	core := newTestCore(url, fakeSource{value: 1 << 16}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, core.Start(ctx))
	defer core.Stop()

	proxyConn := accept()
	defer proxyConn.Close()

	var mu sync.Mutex
	var audioDuringMute int
	muted := false
	go func() {
		for {
			mt, data, err := proxyConn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				mu.Lock()
				if muted {
					audioDuringMute++
				}
				mu.Unlock()
				_ = data
			}
		}
	}()

	core.Events() <- RecordStart
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, proxyConn.WriteJSON(map[string]string{"type": "speech_start"}))
	time.Sleep(100 * time.Millisecond) // let the mute take effect before counting

	mu.Lock()
	muted = true
	mu.Unlock()

	require.NoError(t, proxyConn.WriteMessage(websocket.BinaryMessage, make([]byte, 24000)))
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, proxyConn.WriteJSON(map[string]string{"type": "speech_end"}))

	mu.Lock()
	muted = false
	mu.Unlock()

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	gotDuringMute := audioDuringMute
	mu.Unlock()
	require.Zero(t, gotDuringMute, "no binary frames should reach the proxy while muted")
	require.GreaterOrEqual(t, sink.totalBytes(), 24000, "I2S TX should receive at least the injected speech")
}

// A mid-session disconnect moves the state to Error, and later sends fail.
func TestMidSessionDisconnectEntersError(t *testing.T) {
	url, accept := fakeProxy(t)
	core := newTestCore(url, fakeSource{value: 1 << 16}, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, core.Start(ctx))
	defer core.Stop()

	proxyConn := accept()

	// Drain binary frames on the proxy side so capture's sends don't block.
	go func() {
		for {
			if _, _, err := proxyConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	core.Events() <- RecordStart
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, proxyConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(1001, ""), time.Now().Add(time.Second)))
	proxyConn.Close()

	var sawError bool
	deadline := time.After(2 * time.Second)
	for !sawError {
		select {
		case st := <-core.StatusCh():
			if st.State == Error {
				sawError = true
			}
		case <-deadline:
			t.Fatal("core never transitioned to Error after disconnect")
		}
	}

	err := core.transport.SendAudio(context.Background(), []byte{1, 2})
	require.Error(t, err)
}
