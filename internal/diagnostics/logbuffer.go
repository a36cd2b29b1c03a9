package diagnostics

import (
	"bytes"
	"sync"
	"time"
)

const (
	logBufferCap    = 500
	logBufferWindow = 10 * time.Minute
)

type logLine struct {
	at   time.Time
	text string
}

// LogBuffer is a bounded ring of recent log lines, fed through io.Writer so
// it can sit behind the process slog handler via io.MultiWriter. Triage reads
// it back as context for the LLM.
type LogBuffer struct {
	mu    sync.Mutex
	lines []logLine
	now   func() time.Time
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{now: time.Now}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	for _, raw := range bytes.Split(p, []byte("\n")) {
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		b.append(string(raw))
	}
	return len(p), nil
}

func (b *LogBuffer) append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, logLine{at: b.now(), text: text})
	if len(b.lines) > logBufferCap {
		b.lines = b.lines[len(b.lines)-logBufferCap:]
	}
}

// Recent returns lines newer than the window, oldest first.
func (b *LogBuffer) Recent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-logBufferWindow)
	out := make([]string, 0, len(b.lines))
	for _, l := range b.lines {
		if l.at.After(cutoff) {
			out = append(out, l.text)
		}
	}
	return out
}
