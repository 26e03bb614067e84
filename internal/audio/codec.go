package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// FormatError reports a payload whose size does not match the expected frame geometry
type FormatError struct {
	Op       string
	Encoding Encoding
	Got      int
	Want     int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("audio %s: %s payload is %d bytes, want %d", e.Op, e.Encoding, e.Got, e.Want)
}

// Decode converts one 160-byte µ-law frame into one 960-byte PCM 24 kHz frame.
// Samples are expanded to 16-bit linear and upsampled x3 by linear interpolation;
// the last sample is held for the final interpolation span.
func Decode(mulaw []byte) ([]byte, error) {
	if len(mulaw) != MulawFrameSize {
		return nil, &FormatError{Op: "decode", Encoding: EncodingMulaw8k, Got: len(mulaw), Want: MulawFrameSize}
	}

	out := make([]byte, PCMFrameSize)
	cur := int32(MulawToLinear(mulaw[0]))
	for i := 0; i < MulawFrameSize; i++ {
		next := cur
		if i+1 < MulawFrameSize {
			next = int32(MulawToLinear(mulaw[i+1]))
		}
		for k := int32(0); k < upsampleFactor; k++ {
			v := (cur*(upsampleFactor-k) + next*k) / upsampleFactor
			binary.LittleEndian.PutUint16(out[(i*upsampleFactor+int(k))*2:], uint16(int16(v)))
		}
		cur = next
	}
	return out, nil
}

// Encode converts one 960-byte PCM 24 kHz frame into one 160-byte µ-law frame.
// Every third sample is kept, so Encode(Decode(x)) reproduces each linear value.
func Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != PCMFrameSize {
		return nil, &FormatError{Op: "encode", Encoding: EncodingPCM24k, Got: len(pcm), Want: PCMFrameSize}
	}

	out := make([]byte, MulawFrameSize)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*upsampleFactor*2:]))
		out[i] = LinearToMulaw(s)
	}
	return out, nil
}

// Mix combines two equal-length PCM buffers sample by sample as
// round(a*weightA + b*weightB), saturating at the int16 range
func Mix(a, b []byte, weightA, weightB float64) ([]byte, error) {
	if len(a) != len(b) {
		return nil, &FormatError{Op: "mix", Encoding: EncodingPCM24k, Got: len(b), Want: len(a)}
	}
	if len(a)%2 != 0 {
		return nil, &FormatError{Op: "mix", Encoding: EncodingPCM24k, Got: len(a), Want: len(a) + 1}
	}

	out := make([]byte, len(a))
	for i := 0; i < len(a); i += 2 {
		sa := float64(int16(binary.LittleEndian.Uint16(a[i:])))
		sb := float64(int16(binary.LittleEndian.Uint16(b[i:])))
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(math.Round(sa*weightA+sb*weightB))))
	}
	return out, nil
}

// DecodeFrame converts a µ-law frame into a PCM frame with the same sequence
func DecodeFrame(f Frame) (Frame, error) {
	if f.Encoding != EncodingMulaw8k {
		return Frame{}, &FormatError{Op: "decode", Encoding: f.Encoding, Got: len(f.Payload), Want: MulawFrameSize}
	}
	pcm, err := Decode(f.Payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: pcm, Encoding: EncodingPCM24k, Sequence: f.Sequence}, nil
}

// EncodeFrame converts a PCM frame into a µ-law frame with the same sequence
func EncodeFrame(f Frame) (Frame, error) {
	if f.Encoding != EncodingPCM24k {
		return Frame{}, &FormatError{Op: "encode", Encoding: f.Encoding, Got: len(f.Payload), Want: PCMFrameSize}
	}
	mulaw, err := Encode(f.Payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Payload: mulaw, Encoding: EncodingMulaw8k, Sequence: f.Sequence}, nil
}

// LinearToMulaw compresses one 16-bit sample to G.711 µ-law
func LinearToMulaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// MulawToLinear expands one G.711 µ-law byte to a 16-bit sample
func MulawToLinear(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	s := ((mantissa << 3) + mulawBias) << exponent
	s -= mulawBias
	if u&0x80 != 0 {
		return int16(-s)
	}
	return int16(s)
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
