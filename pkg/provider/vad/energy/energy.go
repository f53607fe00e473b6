// Package energy provides a dependency-free, RMS-energy-based VAD engine.
//
// No third-party voice-activity-detection library in the surrounding
// ecosystem ships a pure-Go implementation (WebRTC's own VAD is a C library;
// Silero VAD ships as an ONNX model requiring a runtime binding). This engine
// instead classifies frames by root-mean-square energy against a threshold
// derived from Config.Aggressiveness. It is intentionally simple: a single
// scalar threshold and a one-frame-of-hysteresis state machine, which is
// enough to drive the audio segmenter's emission policy.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/rpgscribe/rpgscribe/pkg/provider/vad"
)

// aggressivenessThresholds maps Config.Aggressiveness (0–3) to an RMS energy
// threshold, on the same 0–32767 scale as a 16-bit PCM sample. Higher
// aggressiveness requires more energy before a frame counts as speech, i.e.
// it classifies more frames as silence.
var aggressivenessThresholds = [4]float64{
	150,  // 0: least aggressive
	300,  // 1
	600,  // 2
	1200, // 3: most aggressive
}

// Engine implements vad.Engine using RMS energy thresholding.
type Engine struct{}

// New creates an Engine. There is no state to configure at the engine level;
// all tuning happens per-session via Config.
func New() *Engine { return &Engine{} }

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// NewSession creates a new energy-threshold VAD session. cfg.SampleRate and
// cfg.FrameSizeMs are not validated against the audio itself — ProcessFrame
// accepts frames of any length and classifies them independent of duration.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	threshold := thresholdFor(cfg)
	return &session{threshold: threshold}, nil
}

func thresholdFor(cfg vad.Config) float64 {
	if cfg.Aggressiveness >= 0 && cfg.Aggressiveness < len(aggressivenessThresholds) {
		return aggressivenessThresholds[cfg.Aggressiveness]
	}
	if cfg.SpeechThreshold > 0 {
		// SpeechThreshold is documented on a [0,1] probability scale; rescale
		// it onto the RMS energy scale so callers that only set the
		// probability-style fields still get a sensible threshold.
		return cfg.SpeechThreshold * aggressivenessThresholds[3]
	}
	return aggressivenessThresholds[1]
}

// session is a single VAD stream's detection state.
type session struct {
	threshold float64
	speaking  bool
	closed    bool
}

var errSessionClosed = errors.New("energy: session is closed")

// ProcessFrame classifies frame by RMS energy against the session's
// threshold and returns the resulting transition. A malformed (odd-length)
// frame degrades to reporting speech rather than returning an error: losing
// a frame of audio is worse for this pipeline than over-segmenting on it.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("energy: process frame: %w", errSessionClosed)
	}

	rms := computeRMS(frame)
	isSpeech := rms >= s.threshold || len(frame)%2 != 0

	switch {
	case isSpeech && !s.speaking:
		s.speaking = true
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: probabilityFor(rms, s.threshold)}, nil
	case isSpeech && s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: probabilityFor(rms, s.threshold)}, nil
	case !isSpeech && s.speaking:
		s.speaking = false
		return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: probabilityFor(rms, s.threshold)}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence, Probability: probabilityFor(rms, s.threshold)}, nil
	}
}

// Reset clears the speaking/silence state without closing the session.
func (s *session) Reset() {
	s.speaking = false
}

// Close marks the session closed. Subsequent ProcessFrame calls return an
// error. Calling Close more than once is safe.
func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer. Returns 0 for buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// probabilityFor maps an RMS value onto a [0, 1] pseudo-probability relative
// to threshold, purely for callers that log or display it; it does not
// affect classification.
func probabilityFor(rms, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	p := rms / (2 * threshold)
	if p > 1 {
		return 1
	}
	return p
}
