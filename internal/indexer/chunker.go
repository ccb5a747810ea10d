package indexer

import "log"

// Chunker adapts the block span of log queries to what the RPC provider
// will tolerate. A range error halves the span; sustained success creeps
// it back up toward the configured maximum.
type Chunker struct {
	size    uint64
	max     uint64
	streak  int
}

const (
	chunkMin         = 16
	chunkGrowStreak  = 8 // consecutive successes before growing
)

func NewChunker(max uint64) *Chunker {
	return &Chunker{size: max, max: max}
}

// Span returns the chunk end for a query starting at from, capped at tip.
func (c *Chunker) Span(from, tip uint64) uint64 {
	to := from + c.size - 1
	if to > tip {
		to = tip
	}
	return to
}

// Shrink halves the span after a range error.
func (c *Chunker) Shrink() {
	c.streak = 0
	if c.size <= chunkMin {
		return
	}
	c.size /= 2
	if c.size < chunkMin {
		c.size = chunkMin
	}
	log.Printf("[Indexer] chunk size reduced to %d blocks", c.size)
}

// Grow nudges the span back up after a streak of clean queries.
func (c *Chunker) Grow() {
	if c.size >= c.max {
		return
	}
	c.streak++
	if c.streak < chunkGrowStreak {
		return
	}
	c.streak = 0
	c.size *= 2
	if c.size > c.max {
		c.size = c.max
	}
}

// Size exposes the current span for logging.
func (c *Chunker) Size() uint64 {
	return c.size
}
