// Command device is the production entrypoint: it wires the real (here,
// PortAudio-backed, standing in for I²S) capture/playback peripherals, a
// Redis-backed persistent identity store, and the session controller, then
// drives the assistant state machine from a minimal stdin-based stand-in
// for the touch/display UI collaborator.
package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	va "github.com/pcomans/voice-assistant-device"
	"github.com/pcomans/voice-assistant-device/audiodev"
	"github.com/pcomans/voice-assistant-device/identity"
)

// Provisioning (endpoint URL, auth token, Redis address) is out of scope —
// on real hardware these come from NVS/bootstrap, not a CLI flag or
// environment variable, so the endpoint URL and Redis address are literal
// constants here rather than configurable at this layer, and no auth token
// is set.
const (
	endpointURL = "wss://proxy.example.internal/v1/stream"
	redisAddr   = "127.0.0.1:6379"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)

	cfg := va.DefaultConfig()
	cfg.EndpointURL = endpointURL

	src, err := audiodev.NewPortAudioSource(cfg.CaptureSampleRateHz, 256)
	if err != nil {
		logger.Fatalf("capture device: %v", err)
	}
	defer src.Close()

	sink, err := audiodev.NewPortAudioSink(cfg.PlaybackSampleRateHz, 1024)
	if err != nil {
		logger.Fatalf("playback device: %v", err)
	}
	defer sink.Close()

	store := identity.DialRedisStore(redisAddr, "")

	core := va.NewCore(cfg, src, sink, store, nil, logger)
	logger.Printf("session id: %s", core.SessionID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		logger.Fatalf("core start: %v", err)
	}
	defer core.Stop()

	go logStatus(logger, core.StatusCh())

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "start":
				core.Events() <- va.RecordStart
			case "stop":
				core.Events() <- va.RecordStop
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Println("shutting down")
}

func logStatus(logger *log.Logger, statusCh <-chan va.Status) {
	for st := range statusCh {
		logger.Printf("status: state=%s wifi=%v proxy=%v at %s",
			st.State, st.WifiConnected, st.ProxyConnected, time.Now().Format(time.RFC3339))
	}
}
