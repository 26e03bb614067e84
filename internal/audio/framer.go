package audio

import "sync"

// Framer cuts an arbitrary byte stream into fixed 20 ms frames of one encoding.
// Frames are numbered with a running sequence starting at zero.
type Framer struct {
	encoding Encoding
	size     int
	pending  []byte
	nextSeq  uint32

	// Statistics
	framesEmitted uint64
	paddedFrames  uint64
	bytesIn       uint64

	mu sync.Mutex
}

// FramerStats represents framer statistics
type FramerStats struct {
	Encoding      string `json:"encoding"`
	FramesEmitted uint64 `json:"frames_emitted"`
	PaddedFrames  uint64 `json:"padded_frames"`
	BytesIn       uint64 `json:"bytes_in"`
	PendingBytes  int    `json:"pending_bytes"`
	NextSequence  uint32 `json:"next_sequence"`
}

// NewFramer creates a framer for the given encoding
func NewFramer(enc Encoding) *Framer {
	return &Framer{
		encoding: enc,
		size:     enc.FrameSize(),
		pending:  make([]byte, 0, enc.FrameSize()*2),
	}
}

// Push appends data and returns every complete frame now available.
// Leftover bytes are kept until the next Push or Flush.
func (f *Framer) Push(data []byte) []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.size == 0 {
		return nil
	}

	f.bytesIn += uint64(len(data))
	f.pending = append(f.pending, data...)

	var frames []Frame
	for len(f.pending) >= f.size {
		frames = append(frames, f.emit(f.pending[:f.size]))
		f.pending = f.pending[f.size:]
	}

	// Compact so the backing array does not grow without bound
	if len(f.pending) > 0 && cap(f.pending) > f.size*4 {
		f.pending = append(make([]byte, 0, f.size*2), f.pending...)
	}

	return frames
}

// Flush pads any leftover bytes with silence and returns the final frame.
// It returns false when nothing is pending.
func (f *Framer) Flush() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 || f.size == 0 {
		return Frame{}, false
	}

	payload := make([]byte, f.size)
	n := copy(payload, f.pending)
	silence := f.encoding.silence()
	for i := n; i < f.size; i++ {
		payload[i] = silence
	}
	f.pending = f.pending[:0]
	f.paddedFrames++

	return f.emit(payload), true
}

// GetStats returns current framer statistics
func (f *Framer) GetStats() FramerStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return FramerStats{
		Encoding:      f.encoding.String(),
		FramesEmitted: f.framesEmitted,
		PaddedFrames:  f.paddedFrames,
		BytesIn:       f.bytesIn,
		PendingBytes:  len(f.pending),
		NextSequence:  f.nextSeq,
	}
}

func (f *Framer) emit(payload []byte) Frame {
	frame := Frame{
		Payload:  append([]byte(nil), payload...),
		Encoding: f.encoding,
		Sequence: f.nextSeq,
	}
	f.nextSeq++
	f.framesEmitted++
	return frame
}

// Silence returns a silent frame of the given encoding
func Silence(enc Encoding, sequence uint32) Frame {
	payload := make([]byte, enc.FrameSize())
	if s := enc.silence(); s != 0 {
		for i := range payload {
			payload[i] = s
		}
	}
	return Frame{Payload: payload, Encoding: enc, Sequence: sequence}
}
