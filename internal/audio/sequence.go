package audio

import (
	"sync"
	"time"
)

// SequenceTracker follows the frame sequence of one leg.
// It reports gaps (lost frames) and rejects stale or duplicate frames so
// that frames leave the tracker in non-decreasing sequence order.
type SequenceTracker struct {
	started     bool
	lastSeq     uint32 // Last accepted sequence number
	expectedSeq uint32 // Next expected sequence number

	totalFrames uint32
	lostCount   uint32
	staleCount  uint32
	lastUpdate  time.Time

	mu sync.RWMutex
}

// SequenceStats represents tracker statistics for monitoring
type SequenceStats struct {
	TotalFrames  uint32  `json:"total_frames"`
	LostFrames   uint32  `json:"lost_frames"`
	StaleFrames  uint32  `json:"stale_frames"`
	LossRate     float64 `json:"loss_rate"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewSequenceTracker creates an empty tracker; the first observed frame sets the baseline
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Observe records a frame sequence number.
// It returns the number of frames missing before seq and whether the frame
// should be forwarded. Old or duplicate frames return ok=false.
func (t *SequenceTracker) Observe(seq uint32) (gap uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastUpdate = time.Now()

	if !t.started {
		t.started = true
		t.totalFrames++
		t.lastSeq = seq
		t.expectedSeq = seq + 1
		return 0, true
	}

	switch {
	case seq == t.expectedSeq:
		// in order
	case seq > t.expectedSeq:
		gap = seq - t.expectedSeq
		t.lostCount += gap
	default:
		t.staleCount++
		return 0, false
	}

	t.totalFrames++
	t.lastSeq = seq
	t.expectedSeq = seq + 1
	return gap, true
}

// GetStats returns current tracker statistics
func (t *SequenceTracker) GetStats() SequenceStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return SequenceStats{
		TotalFrames:  t.totalFrames,
		LostFrames:   t.lostCount,
		StaleFrames:  t.staleCount,
		LossRate:     t.lossRate(),
		LastSequence: t.lastSeq,
	}
}

// GetLastSequence returns the last accepted sequence number
func (t *SequenceTracker) GetLastSequence() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeq
}

// GetLastUpdate returns the time of the last observed frame
func (t *SequenceTracker) GetLastUpdate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}

// GetPacketLossRate returns the frame loss rate as a percentage
func (t *SequenceTracker) GetPacketLossRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lossRate()
}

func (t *SequenceTracker) lossRate() float64 {
	expected := t.totalFrames + t.lostCount
	if expected == 0 {
		return 0
	}
	return float64(t.lostCount) / float64(expected) * 100
}
