package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Full-scale reference for the RMS level; speech rarely exceeds it on a phone line
const activityReferenceRMS = 10000.0

// ActivityMeter estimates voice activity on a PCM stream from smoothed RMS energy
type ActivityMeter struct {
	threshold float32
	smoothing float32
	level     float32

	totalFrames   uint64
	voiceFrames   uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// ActivityResult represents the activity estimate for one frame
type ActivityResult struct {
	Level    float32 `json:"level"`     // Smoothed energy level (0.0 - 1.0)
	HasVoice bool    `json:"has_voice"` // Whether the level crossed the threshold
}

// ActivityStats represents activity meter statistics
type ActivityStats struct {
	TotalFrames     uint64    `json:"total_frames"`
	VoiceFrames     uint64    `json:"voice_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	Level           float32   `json:"level"`
	Threshold       float32   `json:"threshold"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewActivityMeter creates a meter with the given threshold in [0, 1]
func NewActivityMeter(threshold float32) (*ActivityMeter, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	return &ActivityMeter{
		threshold: threshold,
		smoothing: 0.1,
	}, nil
}

// Process measures one PCM frame (16-bit little-endian samples)
func (m *ActivityMeter) Process(pcm []byte) ActivityResult {
	level := rmsLevel(pcm)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalFrames > 0 {
		level = m.smoothing*level + (1-m.smoothing)*m.level
	}
	m.level = level

	hasVoice := level >= m.threshold
	m.totalFrames++
	if hasVoice {
		m.voiceFrames++
	}
	m.lastProcessed = time.Now()

	return ActivityResult{Level: level, HasVoice: hasVoice}
}

// GetStats returns current meter statistics
func (m *ActivityMeter) GetStats() ActivityStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	voicePercentage := float64(0)
	if m.totalFrames > 0 {
		voicePercentage = float64(m.voiceFrames) / float64(m.totalFrames) * 100
	}

	return ActivityStats{
		TotalFrames:     m.totalFrames,
		VoiceFrames:     m.voiceFrames,
		VoicePercentage: voicePercentage,
		Level:           m.level,
		Threshold:       m.threshold,
		LastProcessed:   m.lastProcessed,
	}
}

// Reset clears the smoothed level and statistics
func (m *ActivityMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.level = 0
	m.totalFrames = 0
	m.voiceFrames = 0
	m.lastProcessed = time.Time{}
}

func rmsLevel(pcm []byte) float32 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var energy float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		energy += s * s
	}
	normalized := math.Sqrt(energy/float64(n)) / activityReferenceRMS
	if normalized > 1 {
		normalized = 1
	}
	return float32(normalized)
}
