package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerSplitsChunks(t *testing.T) {
	tests := []struct {
		name       string
		enc        Encoding
		chunks     []int
		wantFrames int
		wantLeft   int
	}{
		{"exact mulaw frame", EncodingMulaw8k, []int{160}, 1, 0},
		{"short mulaw chunks", EncodingMulaw8k, []int{100, 100, 100}, 1, 140},
		{"oversized pcm chunk", EncodingPCM24k, []int{2500}, 2, 580},
		{"pcm across pushes", EncodingPCM24k, []int{500, 500, 920}, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(tt.enc)
			var frames []Frame
			for _, n := range tt.chunks {
				frames = append(frames, f.Push(make([]byte, n))...)
			}
			assert.Len(t, frames, tt.wantFrames)
			assert.Equal(t, tt.wantLeft, f.GetStats().PendingBytes)
			for i, fr := range frames {
				assert.Equal(t, uint32(i), fr.Sequence)
				assert.NoError(t, fr.Validate())
			}
		})
	}
}

func TestFramerPreservesBytes(t *testing.T) {
	f := NewFramer(EncodingMulaw8k)
	data := make([]byte, 400)
	for i := range data {
		data[i] = byte(i)
	}

	frames := f.Push(data[:250])
	frames = append(frames, f.Push(data[250:])...)
	require.Len(t, frames, 2)

	var joined []byte
	for _, fr := range frames {
		joined = append(joined, fr.Payload...)
	}
	assert.True(t, bytes.Equal(data[:320], joined))
}

func TestFramerFlushPadsWithSilence(t *testing.T) {
	f := NewFramer(EncodingMulaw8k)
	f.Push([]byte{1, 2, 3})

	frame, ok := f.Flush()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, frame.Payload[:3])
	assert.Equal(t, byte(0xFF), frame.Payload[3])
	assert.Equal(t, byte(0xFF), frame.Payload[MulawFrameSize-1])
	assert.Equal(t, 0, f.GetStats().PendingBytes)

	_, ok = f.Flush()
	assert.False(t, ok)

	p := NewFramer(EncodingPCM24k)
	p.Push([]byte{9, 9})
	frame, ok = p.Flush()
	require.True(t, ok)
	assert.Equal(t, byte(0), frame.Payload[2])

	stats := f.GetStats()
	assert.Equal(t, uint64(1), stats.PaddedFrames)
	assert.Equal(t, uint64(1), stats.FramesEmitted)
}

func TestFramerSequenceRunsAcrossPushes(t *testing.T) {
	f := NewFramer(EncodingMulaw8k)
	first := f.Push(make([]byte, MulawFrameSize))
	second := f.Push(make([]byte, MulawFrameSize*2))

	require.Len(t, first, 1)
	require.Len(t, second, 2)
	assert.Equal(t, uint32(0), first[0].Sequence)
	assert.Equal(t, uint32(1), second[0].Sequence)
	assert.Equal(t, uint32(2), second[1].Sequence)
	assert.Equal(t, uint32(3), f.GetStats().NextSequence)
}

func TestSilence(t *testing.T) {
	m := Silence(EncodingMulaw8k, 7)
	require.NoError(t, m.Validate())
	assert.Equal(t, uint32(7), m.Sequence)
	for _, b := range m.Payload {
		require.Equal(t, byte(0xFF), b)
	}

	p := Silence(EncodingPCM24k, 0)
	require.NoError(t, p.Validate())
	assert.Equal(t, make([]byte, PCMFrameSize), p.Payload)
}
