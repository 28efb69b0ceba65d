package shell

import (
	"fmt"
	"sync"
)

// DefaultMaxCapture caps each captured stream at 1 MiB.
const DefaultMaxCapture = 1 << 20

// CappedBuffer is an io.Writer that retains a stable prefix and suffix of
// what was written, dropping the middle once the cap is exceeded. Build
// output can be enormous; the interesting parts are the start (what ran) and
// the end (the error), so half the budget goes to each.
type CappedBuffer struct {
	mu         sync.Mutex
	headBudget int
	tailBudget int
	head       []byte
	tail       [][]byte
	tailBytes  int
	omitted    int
}

// NewCappedBuffer creates a buffer retaining at most maxBytes.
func NewCappedBuffer(maxBytes int) *CappedBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCapture
	}
	headBudget := maxBytes / 2
	return &CappedBuffer{
		headBudget: headBudget,
		tailBudget: maxBytes - headBudget,
	}
}

// Write implements io.Writer; it never fails.
func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chunk := p
	if len(b.head) < b.headBudget {
		room := b.headBudget - len(b.head)
		if len(chunk) <= room {
			b.head = append(b.head, chunk...)
			return len(p), nil
		}
		b.head = append(b.head, chunk[:room]...)
		chunk = chunk[room:]
	}
	b.appendTail(chunk)
	return len(p), nil
}

func (b *CappedBuffer) appendTail(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if len(chunk) >= b.tailBudget {
		// The chunk alone overflows the tail: keep only its end.
		b.omitted += b.tailBytes + len(chunk) - b.tailBudget
		kept := make([]byte, b.tailBudget)
		copy(kept, chunk[len(chunk)-b.tailBudget:])
		b.tail = [][]byte{kept}
		b.tailBytes = b.tailBudget
		return
	}

	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.tail = append(b.tail, c)
	b.tailBytes += len(c)

	// Trim oldest tail chunks back under budget.
	for b.tailBytes > b.tailBudget && len(b.tail) > 0 {
		excess := b.tailBytes - b.tailBudget
		front := b.tail[0]
		if excess >= len(front) {
			b.tail = b.tail[1:]
			b.tailBytes -= len(front)
			b.omitted += len(front)
		} else {
			b.tail[0] = front[excess:]
			b.tailBytes -= excess
			b.omitted += excess
		}
	}
}

// Omitted returns how many middle bytes were dropped.
func (b *CappedBuffer) Omitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.omitted
}

// Len returns how many bytes are retained.
func (b *CappedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.head) + b.tailBytes
}

// String renders the retained output. When the middle was dropped an
// explicit elision marker separates head and tail.
func (b *CappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.omitted == 0 && len(b.tail) == 0 {
		return string(b.head)
	}
	out := make([]byte, 0, len(b.head)+b.tailBytes+64)
	out = append(out, b.head...)
	if b.omitted > 0 {
		out = append(out, []byte(fmt.Sprintf("\n... [%d bytes omitted] ...\n", b.omitted))...)
	}
	for _, c := range b.tail {
		out = append(out, c...)
	}
	return string(out)
}
