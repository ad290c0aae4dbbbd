// Package audio holds the PCM helpers used on the ingest path: frame
// alignment, G.711 mu-law conversion, resampling and a local energy VAD.
package audio

import (
	"sync"
)

// FrameBuffer is a thread-safe ring buffer that re-slices arbitrary audio
// chunks into fixed-size frames.
type FrameBuffer struct {
	mu     sync.Mutex
	buffer []byte
	size   int
	read   int
	write  int
}

// NewFrameBuffer creates a buffer holding up to size-1 bytes
func NewFrameBuffer(size int) *FrameBuffer {
	if size < 2 {
		size = 2
	}
	return &FrameBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data and returns the number of bytes stored. Bytes that do
// not fit are dropped.
func (fb *FrameBuffer) Write(data []byte) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	written := 0
	for _, b := range data {
		if (fb.write+1)%fb.size == fb.read {
			break
		}
		fb.buffer[fb.write] = b
		fb.write = (fb.write + 1) % fb.size
		written++
	}
	return written
}

// ReadFrame removes exactly n bytes. It returns false, consuming nothing,
// when fewer than n bytes are buffered.
func (fb *FrameBuffer) ReadFrame(n int) ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if n <= 0 || fb.available() < n {
		return nil, false
	}
	frame := make([]byte, n)
	for i := range frame {
		frame[i] = fb.buffer[fb.read]
		fb.read = (fb.read + 1) % fb.size
	}
	return frame, true
}

// Drain removes and returns everything buffered
func (fb *FrameBuffer) Drain() []byte {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	out := make([]byte, fb.available())
	for i := range out {
		out[i] = fb.buffer[fb.read]
		fb.read = (fb.read + 1) % fb.size
	}
	return out
}

// Available returns the number of buffered bytes
func (fb *FrameBuffer) Available() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.available()
}

// Space returns how many more bytes fit
func (fb *FrameBuffer) Space() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.size - fb.available() - 1
}

// Clear discards buffered bytes
func (fb *FrameBuffer) Clear() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.read = 0
	fb.write = 0
}

func (fb *FrameBuffer) available() int {
	if fb.write >= fb.read {
		return fb.write - fb.read
	}
	return fb.size - fb.read + fb.write
}
