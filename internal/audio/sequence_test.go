package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceTrackerInOrder(t *testing.T) {
	tr := NewSequenceTracker()
	for seq := uint32(10); seq < 20; seq++ {
		gap, ok := tr.Observe(seq)
		assert.True(t, ok)
		assert.Zero(t, gap)
	}

	stats := tr.GetStats()
	assert.Equal(t, uint32(10), stats.TotalFrames)
	assert.Zero(t, stats.LostFrames)
	assert.Equal(t, uint32(19), stats.LastSequence)
	assert.Zero(t, tr.GetPacketLossRate())
	assert.False(t, tr.GetLastUpdate().IsZero())
}

func TestSequenceTrackerGapsAndStale(t *testing.T) {
	tests := []struct {
		name     string
		seqs     []uint32
		wantOK   []bool
		wantGaps []uint32
		lost     uint32
		stale    uint32
	}{
		{
			name:     "gap counted as loss",
			seqs:     []uint32{1, 2, 5, 6},
			wantOK:   []bool{true, true, true, true},
			wantGaps: []uint32{0, 0, 2, 0},
			lost:     2,
		},
		{
			name:     "duplicate rejected",
			seqs:     []uint32{1, 2, 2, 3},
			wantOK:   []bool{true, true, false, true},
			wantGaps: []uint32{0, 0, 0, 0},
			stale:    1,
		},
		{
			name:     "late frame after gap rejected",
			seqs:     []uint32{1, 4, 3, 5},
			wantOK:   []bool{true, true, false, true},
			wantGaps: []uint32{0, 2, 0, 0},
			lost:     2,
			stale:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewSequenceTracker()
			for i, seq := range tt.seqs {
				gap, ok := tr.Observe(seq)
				assert.Equal(t, tt.wantOK[i], ok, "seq %d", seq)
				assert.Equal(t, tt.wantGaps[i], gap, "seq %d", seq)
			}
			stats := tr.GetStats()
			assert.Equal(t, tt.lost, stats.LostFrames)
			assert.Equal(t, tt.stale, stats.StaleFrames)
		})
	}
}

func TestSequenceTrackerLossRate(t *testing.T) {
	tr := NewSequenceTracker()
	tr.Observe(0)
	tr.Observe(4) // 3 lost

	// 2 received + 3 lost = 5 expected
	assert.InDelta(t, 60.0, tr.GetPacketLossRate(), 0.001)
	assert.Equal(t, uint32(4), tr.GetLastSequence())
}
