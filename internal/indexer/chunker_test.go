package indexer

import "testing"

func TestChunkerSpanCapsAtTip(t *testing.T) {
	c := NewChunker(1000)
	if to := c.Span(100, 5000); to != 1099 {
		t.Errorf("full span expected 1099, got %d", to)
	}
	if to := c.Span(4900, 5000); to != 5000 {
		t.Errorf("tip-capped span expected 5000, got %d", to)
	}
}

func TestChunkerShrinkHalvesWithFloor(t *testing.T) {
	c := NewChunker(1000)
	c.Shrink()
	if c.Size() != 500 {
		t.Errorf("expected 500 after one shrink, got %d", c.Size())
	}
	for i := 0; i < 20; i++ {
		c.Shrink()
	}
	if c.Size() != chunkMin {
		t.Errorf("shrink must floor at %d, got %d", chunkMin, c.Size())
	}
}

func TestChunkerGrowsAfterStreak(t *testing.T) {
	c := NewChunker(1000)
	c.Shrink()
	c.Shrink() // 250

	// Growth requires a full streak of clean queries.
	for i := 0; i < chunkGrowStreak-1; i++ {
		c.Grow()
	}
	if c.Size() != 250 {
		t.Errorf("size must not grow mid-streak, got %d", c.Size())
	}
	c.Grow()
	if c.Size() != 500 {
		t.Errorf("expected 500 after full streak, got %d", c.Size())
	}

	// A failure resets the streak.
	for i := 0; i < chunkGrowStreak-1; i++ {
		c.Grow()
	}
	c.Shrink() // back to 250, streak 0
	for i := 0; i < chunkGrowStreak-1; i++ {
		c.Grow()
	}
	if c.Size() != 250 {
		t.Errorf("shrink must reset the growth streak, got %d", c.Size())
	}
}

func TestChunkerGrowCapsAtMax(t *testing.T) {
	c := NewChunker(100)
	c.Shrink() // 50
	for i := 0; i < chunkGrowStreak*4; i++ {
		c.Grow()
	}
	if c.Size() != 100 {
		t.Errorf("growth must cap at the configured max, got %d", c.Size())
	}
}
