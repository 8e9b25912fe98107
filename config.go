package voiceassistant

import "time"

// Config holds every in-process configuration knob the core needs. There
// is no CLI surface and no environment-variable binding; callers (e.g.
// cmd/device) construct this literally.
type Config struct {
	// EndpointURL is the proxy's WebSocket endpoint. Required.
	EndpointURL string
	// AuthToken, if non-empty, is sent as a transport-layer header.
	AuthToken string

	CaptureSampleRateHz   int
	PlaybackSampleRateHz  int
	CaptureChunkMs        int
	PlaybackPrebufferMs   int
	PlaybackRingCapacityMs int

	TransportSendTimeout       time.Duration
	TransportKeepalive         time.Duration
	TransportReconnectBackoff  time.Duration

	AECEnabled            bool
	AECReferenceWindowMs  int
	VolumePercent         int
}

// DefaultConfig returns the production-default settings; callers only need
// to set EndpointURL (and, optionally, AuthToken).
func DefaultConfig() Config {
	return Config{
		CaptureSampleRateHz:        16000,
		PlaybackSampleRateHz:       24000,
		CaptureChunkMs:             100,
		PlaybackPrebufferMs:        500,
		PlaybackRingCapacityMs:     2000,
		TransportSendTimeout:       5 * time.Second,
		TransportKeepalive:         10 * time.Second,
		TransportReconnectBackoff:  10 * time.Second,
		AECEnabled:                 false,
		AECReferenceWindowMs:       500,
		VolumePercent:              100,
	}
}
