package indexer

import (
	"context"
	"math/big"
	"time"

	"github.com/trustrank/scoring-engine/internal/chain"
)

// blockClock resolves block numbers to timestamps. Headers are fetched
// once per block and cached for the life of one indexing pass; when a
// header read fails the timestamp is estimated from a reference block at
// the chain's 2s cadence.
type blockClock struct {
	rpc   chain.RPC
	cache map[uint64]time.Time

	refBlock uint64
	refTime  time.Time
}

const blockInterval = 2 * time.Second

func newBlockClock(rpc chain.RPC) *blockClock {
	return &blockClock{rpc: rpc, cache: make(map[uint64]time.Time)}
}

// At returns the UTC timestamp of a block.
func (c *blockClock) At(ctx context.Context, number uint64) time.Time {
	if t, ok := c.cache[number]; ok {
		return t
	}
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil || header == nil {
		return c.estimate(number)
	}
	t := time.Unix(int64(header.Time), 0).UTC()
	c.cache[number] = t
	c.refBlock, c.refTime = number, t
	return t
}

// estimate extrapolates from the last resolved header.
func (c *blockClock) estimate(number uint64) time.Time {
	if c.refTime.IsZero() {
		return time.Now().UTC()
	}
	delta := time.Duration(int64(number)-int64(c.refBlock)) * blockInterval
	return c.refTime.Add(delta)
}
