package testutil

import (
	"strings"
	"sync"

	"github.com/hupe1980/chatkernel/core"
)

// ChunkCollector records streamed chunks and notices chunks that arrive
// after Finish was called.
// Example:
//
//	c := &ChunkCollector{}
//	res := k.Execute(ctx, req, c.OnChunk)
//	c.Finish()
type ChunkCollector struct {
	mu       sync.Mutex
	chunks   []string
	finished bool
	late     bool
}

// OnChunk records one chunk. Pass it as the chunk callback.
func (c *ChunkCollector) OnChunk(ch core.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		c.late = true
	}
	c.chunks = append(c.chunks, ch.Text)
}

// Finish marks the point the terminal result was observed.
func (c *ChunkCollector) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
}

// Texts returns the recorded chunk texts in arrival order.
func (c *ChunkCollector) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// Joined concatenates all recorded chunks.
func (c *ChunkCollector) Joined() string {
	return strings.Join(c.Texts(), "")
}

// Late reports whether a chunk arrived after Finish.
func (c *ChunkCollector) Late() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.late
}
