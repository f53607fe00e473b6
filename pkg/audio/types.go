package audio

import "time"

// AudioFrame is the unit of audio moving through the pipeline: a slab of PCM
// with just enough metadata to interpret it.
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz; 48000 on the Discord path.
	SampleRate int

	// Channels is 1 (mono) or 2 (interleaved stereo).
	Channels int

	// Timestamp is the capture offset relative to stream start.
	Timestamp time.Duration
}
