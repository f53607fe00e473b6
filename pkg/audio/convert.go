package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format is the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch {
	case f.Channels == 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// FormatConverter normalises incoming frames to Target. Frames already in
// the target format pass through untouched. One converter serves one stream;
// it is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. A frame whose byte count is
// not a whole number of int16 samples is replaced with an empty frame, since
// its content cannot be interpreted.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio converter dropping misaligned PCM",
				"bytes", len(frame.Data),
				"format", Format{frame.SampleRate, frame.Channels}.String(),
			)
		})
		return AudioFrame{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  frame.Timestamp,
		}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}
	c.warnMismatch.Do(func() {
		slog.Warn("audio converter resampling stream",
			"from", Format{frame.SampleRate, frame.Channels}.String(),
			"to", c.Target.String(),
		)
	})

	pcm := frame.Data
	// Resample before any channel change so a stereo→mono stream is not
	// resampled at double width.
	if frame.SampleRate != c.Target.SampleRate {
		if frame.Channels == 1 {
			pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, frame.SampleRate, c.Target.SampleRate)
		}
	}
	switch {
	case frame.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	case frame.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	}

	return AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// sampleAt reads the little-endian int16 at sample index i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
}

// putSample writes s as little-endian int16 at sample index i.
func putSample(pcm []byte, i int, s int16) {
	pcm[2*i] = byte(s)
	pcm[2*i+1] = byte(s >> 8)
}

// StereoToMono folds interleaved L/R int16 pairs into mono by averaging.
// The average is computed in int32 and truncates toward zero.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, 2*i))
		r := int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// MonoToStereo duplicates each mono int16 sample into an L/R pair.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// ResampleMono16 converts mono int16 PCM between sample rates with linear
// interpolation. Equal rates or degenerate input return the slice unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// ResampleStereo16 is ResampleMono16 for interleaved L/R frames; each
// channel is interpolated independently.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		l0, r0 := sampleAt(pcm, 2*idx), sampleAt(pcm, 2*idx+1)
		l1, r1 := l0, r0
		if idx+1 < srcFrames {
			l1, r1 = sampleAt(pcm, 2*(idx+1)), sampleAt(pcm, 2*(idx+1)+1)
		}
		putSample(out, 2*i, int16(float64(l0)*(1-frac)+float64(l1)*frac))
		putSample(out, 2*i+1, int16(float64(r0)*(1-frac)+float64(r1)*frac))
	}
	return out
}
