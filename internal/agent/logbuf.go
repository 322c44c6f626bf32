package agent

import (
	"sync"
	"time"
)

const logBufferCapacity = 50

// logBuffer is a fixed-capacity FIFO of timestamped log lines. Append is
// lock-free from the caller's perspective in the sense that it never blocks
// on I/O; the mutex only guards the slice itself.
type logBuffer struct {
	mu      sync.Mutex
	entries []string
}

func newLogBuffer() *logBuffer {
	return &logBuffer{entries: make([]string, 0, logBufferCapacity)}
}

func (b *logBuffer) append(msg string) {
	line := "[" + time.Now().Format("15:04:05") + "] " + msg
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, line)
	if len(b.entries) > logBufferCapacity {
		b.entries = b.entries[len(b.entries)-logBufferCapacity:]
	}
}

func (b *logBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}
