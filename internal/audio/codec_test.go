package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func pcmBytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestMulawSampleRoundTrip(t *testing.T) {
	for code := 0; code < 256; code++ {
		u := byte(code)
		got := LinearToMulaw(MulawToLinear(u))
		if u == 0x7F {
			// Negative zero collapses onto positive zero
			assert.Equal(t, byte(0xFF), got)
			continue
		}
		assert.Equalf(t, u, got, "code 0x%02X", u)
	}
}

func TestLinearToMulawKnownValues(t *testing.T) {
	tests := []struct {
		name   string
		sample int16
		want   byte
	}{
		{"zero", 0, 0xFF},
		{"max positive clips", math.MaxInt16, 0x80},
		{"max negative clips", math.MinInt16, 0x00},
		{"small positive", 8, 0xFE},
		{"small negative", -8, 0x7E},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LinearToMulaw(tt.sample))
		})
	}
}

func TestDecodeSizes(t *testing.T) {
	pcm, err := Decode(make([]byte, MulawFrameSize))
	require.NoError(t, err)
	assert.Len(t, pcm, PCMFrameSize)

	_, err = Decode(make([]byte, 159))
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 159, fe.Got)
	assert.Equal(t, MulawFrameSize, fe.Want)
	assert.Equal(t, EncodingMulaw8k, fe.Encoding)
}

func TestEncodeSizes(t *testing.T) {
	mulaw, err := Encode(make([]byte, PCMFrameSize))
	require.NoError(t, err)
	assert.Len(t, mulaw, MulawFrameSize)

	_, err = Encode(make([]byte, 320))
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "encode", fe.Op)
	assert.Equal(t, PCMFrameSize, fe.Want)
}

func TestDecodeInterpolates(t *testing.T) {
	in := make([]byte, MulawFrameSize)
	for i := range in {
		in[i] = 0xFF
	}
	in[1] = LinearToMulaw(3000)
	high := MulawToLinear(in[1])

	samples := pcmSamples(mustDecode(t, in))
	require.Len(t, samples, 480)

	// Span 0 ramps from 0 to the second sample
	assert.Equal(t, int16(0), samples[0])
	assert.Equal(t, high/3, samples[1])
	assert.Equal(t, 2*high/3, samples[2])
	assert.Equal(t, high, samples[3])

	// Last sample is held
	in[159] = LinearToMulaw(-5000)
	samples = pcmSamples(mustDecode(t, in))
	last := MulawToLinear(in[159])
	assert.Equal(t, []int16{last, last, last}, samples[477:480])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := [][]byte{make([]byte, MulawFrameSize), make([]byte, MulawFrameSize)}
	for code := 0; code < 256; code++ {
		frames[code/MulawFrameSize][code%MulawFrameSize] = byte(code)
	}
	for i := 256 - MulawFrameSize; i < MulawFrameSize; i++ {
		frames[1][i] = byte(i)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		f := make([]byte, MulawFrameSize)
		rng.Read(f)
		frames = append(frames, f)
	}

	for _, in := range frames {
		out, err := Encode(mustDecode(t, in))
		require.NoError(t, err)
		for i := range in {
			assert.Equal(t, MulawToLinear(in[i]), MulawToLinear(out[i]), "sample %d", i)
		}
	}
}

func TestMixClamps(t *testing.T) {
	tests := []struct {
		name     string
		a, b     int16
		wa, wb   float64
		expected int16
	}{
		{"both max full weight", math.MaxInt16, math.MaxInt16, 1, 1, math.MaxInt16},
		{"both min full weight", math.MinInt16, math.MinInt16, 1, 1, math.MinInt16},
		{"opposite cancel", 1000, -1000, 1, 1, 0},
		{"default gains", 10000, 20000, 0.7, 0.3, 13000},
		{"rounds half away from zero", 1, 0, 0.5, 0, 1},
		{"zero weights", math.MaxInt16, math.MinInt16, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Mix(pcmBytes(tt.a), pcmBytes(tt.b), tt.wa, tt.wb)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pcmSamples(out)[0])
		})
	}
}

func TestMixStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := make([]byte, PCMFrameSize)
	b := make([]byte, PCMFrameSize)

	for i := 0; i < 200; i++ {
		rng.Read(a)
		rng.Read(b)
		wa, wb := rng.Float64(), rng.Float64()

		out, err := Mix(a, b, wa, wb)
		require.NoError(t, err)

		sa, sb, so := pcmSamples(a), pcmSamples(b), pcmSamples(out)
		for j := range so {
			exact := math.Round(float64(sa[j])*wa + float64(sb[j])*wb)
			exact = math.Max(math.MinInt16, math.Min(math.MaxInt16, exact))
			require.Equal(t, int16(exact), so[j])
		}
	}
}

func TestMixRejectsMismatchedInput(t *testing.T) {
	_, err := Mix(make([]byte, 4), make([]byte, 6), 0.5, 0.5)
	var fe *FormatError
	assert.True(t, errors.As(err, &fe))

	_, err = Mix(make([]byte, 3), make([]byte, 3), 0.5, 0.5)
	assert.True(t, errors.As(err, &fe))
}

func TestFrameConversionKeepsSequence(t *testing.T) {
	in, err := NewFrame(EncodingMulaw8k, 42, make([]byte, MulawFrameSize))
	require.NoError(t, err)

	pcm, err := DecodeFrame(in)
	require.NoError(t, err)
	assert.Equal(t, EncodingPCM24k, pcm.Encoding)
	assert.Equal(t, uint32(42), pcm.Sequence)

	out, err := EncodeFrame(pcm)
	require.NoError(t, err)
	assert.Equal(t, EncodingMulaw8k, out.Encoding)
	assert.Equal(t, uint32(42), out.Sequence)

	_, err = DecodeFrame(pcm)
	assert.Error(t, err)
	_, err = EncodeFrame(in)
	assert.Error(t, err)
}

func TestNewFrameCopiesPayload(t *testing.T) {
	payload := make([]byte, MulawFrameSize)
	f, err := NewFrame(EncodingMulaw8k, 1, payload)
	require.NoError(t, err)

	payload[0] = 0x12
	assert.Equal(t, byte(0), f.Payload[0])

	_, err = NewFrame(EncodingPCM24k, 1, payload)
	assert.Error(t, err)
	_, err = NewFrame(Encoding(9), 1, payload)
	assert.Error(t, err)
}

func mustDecode(t *testing.T, in []byte) []byte {
	t.Helper()
	out, err := Decode(in)
	require.NoError(t, err)
	return out
}
