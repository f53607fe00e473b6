package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const bitsPerSample = 16

// wavHeader is the canonical 44-byte preamble of a linear-PCM WAV file: the
// RIFF chunk descriptor, the "fmt " sub-chunk, and the "data" sub-chunk
// descriptor. Field order and widths follow the RIFF spec exactly so the
// struct can be serialised with binary.Write.
type wavHeader struct {
	RIFFTag       [4]byte
	RIFFSize      uint32 // file size minus the 8-byte RIFF descriptor
	WaveTag       [4]byte
	FmtTag        [4]byte
	FmtSize       uint32 // 16 for linear PCM
	AudioFormat   uint16 // 1 = linear PCM
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate × frame size
	FrameSize     uint16 // bytes per multi-channel sample frame
	BitsPerSample uint16
	DataTag       [4]byte
	DataSize      uint32
}

const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit signed little-endian PCM in a single-data-chunk
// WAV container, which is the upload format the hosted and local STT
// backends both accept.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	frameSize := channels * bitsPerSample / 8
	hdr := wavHeader{
		RIFFTag:       [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      uint32(wavHeaderSize - 8 + len(pcm)),
		WaveTag:       [4]byte{'W', 'A', 'V', 'E'},
		FmtTag:        [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * frameSize),
		FrameSize:     uint16(frameSize),
		BitsPerSample: bitsPerSample,
		DataTag:       [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	// binary.Write cannot fail against a bytes.Buffer with a fixed-size struct.
	_ = binary.Write(buf, binary.LittleEndian, hdr)
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV parses a container produced by [EncodeWAV] (or any canonical
// 44-byte-header PCM WAV) back into its PCM payload, sample rate, and
// channel count.
func DecodeWAV(wav []byte) (pcm []byte, sampleRate, channels int, err error) {
	var hdr wavHeader
	if err := binary.Read(bytes.NewReader(wav), binary.LittleEndian, &hdr); err != nil {
		return nil, 0, 0, fmt.Errorf("audio: wav data too short (%d bytes)", len(wav))
	}

	switch {
	case hdr.RIFFTag != [4]byte{'R', 'I', 'F', 'F'} || hdr.WaveTag != [4]byte{'W', 'A', 'V', 'E'}:
		return nil, 0, 0, fmt.Errorf("audio: not a RIFF/WAVE container")
	case hdr.FmtTag != [4]byte{'f', 'm', 't', ' '}:
		return nil, 0, 0, fmt.Errorf("audio: missing fmt chunk")
	case hdr.DataTag != [4]byte{'d', 'a', 't', 'a'}:
		return nil, 0, 0, fmt.Errorf("audio: missing data chunk")
	case wavHeaderSize+int(hdr.DataSize) > len(wav):
		return nil, 0, 0, fmt.Errorf("audio: data chunk size %d exceeds buffer", hdr.DataSize)
	}

	pcm = wav[wavHeaderSize : wavHeaderSize+int(hdr.DataSize)]
	return pcm, int(hdr.SampleRate), int(hdr.Channels), nil
}
