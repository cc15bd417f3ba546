package tools

import (
	"io"
	"sync"
)

// AudioBuffer is a bounded byte queue between the decoder and the audio
// device. Writes never block: the oldest bytes are dropped when full. Reads
// block until data arrives or the buffer is closed.
type AudioBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buffer []byte
	cap    int
	closed bool
}

func NewAudioBuffer(fixedCap int) *AudioBuffer {
	ab := &AudioBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	ab.cond = sync.NewCond(&ab.mu)
	return ab
}

func (ab *AudioBuffer) Write(data []byte) (dropped int) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if ab.closed {
		return len(data)
	}
	if len(data) > ab.cap {
		dropped = len(data) - ab.cap
		data = data[dropped:]
	}
	if over := len(ab.buffer) + len(data) - ab.cap; over > 0 {
		ab.buffer = append(ab.buffer[:0], ab.buffer[over:]...)
		dropped += over
	}
	ab.buffer = append(ab.buffer, data...)
	ab.cond.Signal()
	return dropped
}

func (ab *AudioBuffer) Read(p []byte) (n int, err error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	for len(ab.buffer) == 0 && !ab.closed {
		ab.cond.Wait()
	}
	if len(ab.buffer) == 0 {
		return 0, io.EOF
	}
	n = copy(p, ab.buffer)
	ab.buffer = append(ab.buffer[:0], ab.buffer[n:]...)
	return n, nil
}

func (ab *AudioBuffer) Len() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.buffer)
}

// Close wakes blocked readers; buffered bytes can still be drained.
func (ab *AudioBuffer) Close() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.closed = true
	ab.cond.Broadcast()
	return nil
}
