// Package offset implements the disjoint-window hand-out coordinator
// described in spec.md §4.3: workers claim [offset, offset+limit) windows
// against a single shared cursor until one of them observes an empty page
// and calls MarkEnd.
package offset

import "sync"

// end is the sentinel Claim returns once MarkEnd has been observed.
const end = -1

// Coordinator atomically hands out disjoint offset windows. A single mutex
// guards the cursor; spec.md explicitly allows this ("lock-free preferred;
// a single mutex is acceptable") and the corpus itself reaches for bare
// mutexes at this granularity (see DESIGN.md), so no ecosystem dependency
// is introduced here.
type Coordinator struct {
	mu     sync.Mutex
	next   int64
	limit  int64
	marked bool
}

// New creates a Coordinator starting at startOffset (0 for a fresh
// extraction, or the checkpoint's last_offset on resume) handing out
// windows of size limit.
func New(startOffset int64, limit int64) *Coordinator {
	if limit <= 0 {
		limit = 1
	}
	return &Coordinator{next: startOffset, limit: limit}
}

// Claim atomically returns the next offset and advances the cursor by
// limit. It returns ok=false once MarkEnd has been observed by any worker.
func (c *Coordinator) Claim() (offset int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.marked {
		return end, false
	}
	offset = c.next
	c.next += c.limit
	return offset, true
}

// MarkEnd stops further hand-outs once a worker observes an empty or
// short page, per spec.md §4.3. Idempotent.
func (c *Coordinator) MarkEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marked = true
}

// Limit returns the configured window size.
func (c *Coordinator) Limit() int64 { return c.limit }
