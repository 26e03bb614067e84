package audio

import (
	"fmt"
	"time"
)

// Encoding identifies the sample format of a frame payload
type Encoding uint8

const (
	// EncodingMulaw8k is G.711 µ-law, 8 kHz, mono, one byte per sample
	EncodingMulaw8k Encoding = iota + 1
	// EncodingPCM24k is signed 16-bit little-endian linear PCM, 24 kHz, mono
	EncodingPCM24k
)

// Frame geometry. Every frame carries exactly FrameDuration of audio.
const (
	FrameDuration = 20 * time.Millisecond

	MulawSampleRate = 8000
	PCMSampleRate   = 24000

	MulawFrameSize  = MulawSampleRate / 50   // 160 bytes
	PCMFrameSize    = PCMSampleRate / 50 * 2 // 960 bytes
	pcmFrameSamples = PCMFrameSize / 2       // 480 samples

	upsampleFactor = PCMSampleRate / MulawSampleRate

	mulawSilence = 0xFF
)

// String returns a human-readable encoding name
func (e Encoding) String() string {
	switch e {
	case EncodingMulaw8k:
		return "mulaw-8k"
	case EncodingPCM24k:
		return "pcm-24k"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(e))
	}
}

// FrameSize returns the payload size of one 20 ms frame in this encoding
func (e Encoding) FrameSize() int {
	switch e {
	case EncodingMulaw8k:
		return MulawFrameSize
	case EncodingPCM24k:
		return PCMFrameSize
	default:
		return 0
	}
}

// silence returns the byte value that encodes digital silence
func (e Encoding) silence() byte {
	if e == EncodingMulaw8k {
		return mulawSilence
	}
	return 0
}

// Frame is a single 20 ms block of audio from one leg.
// Frames are not mutated after construction.
type Frame struct {
	Payload  []byte
	Encoding Encoding
	Sequence uint32
}

// NewFrame copies payload into a validated frame
func NewFrame(enc Encoding, sequence uint32, payload []byte) (Frame, error) {
	f := Frame{
		Payload:  append([]byte(nil), payload...),
		Encoding: enc,
		Sequence: sequence,
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks that the payload has the fixed size of its encoding
func (f Frame) Validate() error {
	want := f.Encoding.FrameSize()
	if want == 0 || len(f.Payload) != want {
		return &FormatError{Op: "frame", Encoding: f.Encoding, Got: len(f.Payload), Want: want}
	}
	return nil
}
