package transport

import "sync"

// StderrTail keeps a bounded capture of recent worker stderr output for
// diagnostics. Both the line count and the total character count are capped
// so a chatty worker cannot grow host memory without bound; when the
// character budget trims old lines, the oldest surviving line is marked
// truncated.
type StderrTail struct {
	mu        sync.Mutex
	maxLines  int
	maxChars  int
	lines     []string
	chars     int
	truncated bool
}

// NewStderrTail builds a capture bounded by maxLines and maxChars.
func NewStderrTail(maxLines, maxChars int) *StderrTail {
	if maxLines < 1 {
		maxLines = 1
	}
	if maxChars < 1 {
		maxChars = 1
	}
	return &StderrTail{maxLines: maxLines, maxChars: maxChars}
}

// Append records one stderr line, evicting from the front to stay in bounds.
func (t *StderrTail) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(line) > t.maxChars {
		line = line[:t.maxChars]
		t.truncated = true
	}
	t.lines = append(t.lines, line)
	t.chars += len(line)

	for len(t.lines) > t.maxLines || (t.chars > t.maxChars && len(t.lines) > 1) {
		t.chars -= len(t.lines[0])
		t.lines = t.lines[1:]
		t.truncated = true
	}
}

// Lines returns a copy of the captured tail, oldest first.
func (t *StderrTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Truncated reports whether any output was evicted or clipped.
func (t *StderrTail) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}

// Reset clears the capture, for a fresh worker start.
func (t *StderrTail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
	t.chars = 0
	t.truncated = false
}
