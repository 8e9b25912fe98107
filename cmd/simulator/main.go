// Command simulator is a desktop development harness: it captures from
// the local microphone and plays back to local speakers through the same
// Core a real device would run, against a developer-supplied proxy URL —
// same signal.Notify shutdown and portaudio device lifecycle as the
// production entrypoint, plus command-line flags for the proxy URL, auth
// token, AEC and volume, driving the assistant session controller
// interactively from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	va "github.com/pcomans/voice-assistant-device"
	"github.com/pcomans/voice-assistant-device/audiodev"
	"github.com/pcomans/voice-assistant-device/capture"
	"github.com/pcomans/voice-assistant-device/identity"
)

func main() {
	var (
		serverURL = flag.String("url", "ws://localhost:8081/ws", "proxy WebSocket URL")
		authToken = flag.String("token", "", "optional auth token")
		aecOn     = flag.Bool("aec", false, "set Config.AECEnabled (no canceller is wired here, so AEC stays off and audio passes through unchanged)")
		volume    = flag.Int("volume", 100, "initial playback volume percent (0-100)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg := va.DefaultConfig()
	cfg.EndpointURL = *serverURL
	cfg.AuthToken = *authToken
	cfg.AECEnabled = *aecOn
	cfg.VolumePercent = *volume

	src, err := audiodev.NewPortAudioSource(cfg.CaptureSampleRateHz, capture.FrameSamples)
	if err != nil {
		logger.Fatalf("open microphone: %v", err)
	}
	defer src.Close()

	sink, err := audiodev.NewPortAudioSink(cfg.PlaybackSampleRateHz, 1024)
	if err != nil {
		logger.Fatalf("open speaker: %v", err)
	}
	defer sink.Close()

	core := va.NewCore(cfg, src, sink, identity.NewMemStore(), nil, logger)
	fmt.Printf("session id: %s\n", core.SessionID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := core.Start(ctx); err != nil {
		logger.Fatalf("connect to %s: %v", *serverURL, err)
	}
	defer core.Stop()
	core.SetWifiConnected(true) // the simulator has no Wi-Fi stack to wait on

	go func() {
		for st := range core.StatusCh() {
			fmt.Printf("[status] state=%s proxy=%v\n", st.State, st.ProxyConnected)
		}
	}()

	fmt.Println("Type 'start' to begin streaming, 'stop' to stop, Ctrl+C to exit.")
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "start":
				core.Events() <- va.RecordStart
			case "stop":
				core.Events() <- va.RecordStop
			default:
				fmt.Println("unrecognized command, use 'start' or 'stop'")
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nDone.")
}
