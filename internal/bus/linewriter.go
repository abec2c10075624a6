package bus

import "sync"

// LineWriter publishes each complete line written to it onto a channel.
// It is handed to the logger as an extra sink so the gateway's own log
// output reaches log-stream subscribers, the same path engine log events
// take.
type LineWriter struct {
	ch *Channel

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter creates a LineWriter publishing to ch.
func NewLineWriter(ch *Channel) *LineWriter {
	return &LineWriter{ch: ch}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	var lines []string
	for {
		idx := indexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			lines = append(lines, string(w.buf[:idx]))
		}
		w.buf = w.buf[idx+1:]
	}
	w.mu.Unlock()

	// Publish outside the buffer lock; the channel has its own.
	for _, line := range lines {
		w.ch.Publish(line)
	}
	return len(p), nil
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}
