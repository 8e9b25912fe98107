package voiceassistant

import "errors"

// Error kinds shared across every component. Components wrap one of these
// with fmt.Errorf("...: %w", ErrX) so callers can classify a failure with
// errors.Is without caring which package produced it.
var (
	// ErrNotReady is returned when an operation is invoked before its
	// owning component has been initialized.
	ErrNotReady = errors.New("voiceassistant: not ready")

	// ErrInvalidArgument covers nil buffers, zero-length where disallowed,
	// misaligned sample counts, and out-of-range values such as volume>100.
	ErrInvalidArgument = errors.New("voiceassistant: invalid argument")

	// ErrFull is returned by a drop-on-full ring push that could not fit
	// its payload. Recoverable; callers log and continue.
	ErrFull = errors.New("voiceassistant: ring full")

	// ErrTimeout is returned by a blocking ring pop, a transport send, or
	// a shutdown wait that expired before completing.
	ErrTimeout = errors.New("voiceassistant: timeout")

	// ErrNotConnected is returned by a transport send attempted while
	// disconnected.
	ErrNotConnected = errors.New("voiceassistant: not connected")

	// ErrDecode covers a malformed JSON text frame. Logged and ignored.
	ErrDecode = errors.New("voiceassistant: decode error")

	// ErrProtocol covers an unexpected wire opcode. Logged at warn level,
	// frame ignored.
	ErrProtocol = errors.New("voiceassistant: protocol error")

	// ErrFatal covers allocation failure or I/O-driver failure. Propagates
	// to the Error assistant state.
	ErrFatal = errors.New("voiceassistant: fatal")
)
