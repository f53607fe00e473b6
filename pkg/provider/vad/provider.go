// Package vad abstracts frame-level voice activity detection. An [Engine]
// mints stateful per-stream sessions; a [SessionHandle] classifies each
// fixed-size PCM frame as speech or silence synchronously, which is what the
// segmenter's silence heuristics need: no buffering, no callbacks.
//
// Engines must tolerate concurrent NewSession calls. A single SessionHandle
// belongs to one goroutine unless its implementation says otherwise.
package vad

// Config parameterises one VAD session.
type Config struct {
	// SampleRate in Hz of the frames fed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the fixed frame duration the detector operates on,
	// typically 10, 20, or 30 ms. Whether frames of any other size are
	// rejected depends on the engine; the energy engine accepts any length.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts
	// as speech. Typical 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability at or below which active speech
	// is considered ended. Must not exceed SpeechThreshold. Typical 0.35.
	SilenceThreshold float64

	// Aggressiveness is the conventional 0–3 knob: 0 calls almost anything
	// speech, 3 calls a frame silence readily. Engines that derive their
	// thresholds from this may ignore the explicit thresholds above.
	Aggressiveness int
}

// SessionHandle is one stream's detector state. Not goroutine-safe unless
// the implementation documents it.
type SessionHandle interface {
	// ProcessFrame classifies one frame of raw little-endian PCM at the
	// session's configured rate and frame size. It must not block; the
	// segmenter calls it inline on the audio path.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset drops accumulated detection state without closing the session.
	// Call it when a stream restarts so stale history cannot bleed into the
	// new segment.
	Reset()

	// Close releases the session. Further calls to ProcessFrame error;
	// closing twice is a no-op.
	Close() error
}

// Engine mints sessions. Implementations must allow concurrent NewSession
// calls.
type Engine interface {
	// NewSession returns a ready session, or an error for an invalid config
	// (unsupported rate, frame size, or threshold).
	NewSession(cfg Config) (SessionHandle, error)
}
