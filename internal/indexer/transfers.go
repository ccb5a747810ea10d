package indexer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/trustrank/scoring-engine/internal/chain"
	"github.com/trustrank/scoring-engine/internal/store"
)

// History backfill
//
// Walks backwards from the cold-start boundary in small chunks, deepening
// the relationship graph beyond the initial backfill window. Each run does
// a bounded slice of work; the descending checkpoint means the job can be
// interrupted at any point and resume where it left off. The walk stops at
// twice the backfill window, deep enough for the graph probes without
// indexing the whole chain.

const backfillChunksPerRun = 10

// BackfillHistory extends indexed history downward by up to
// backfillChunksPerRun chunks.
func (ix *Indexer) BackfillHistory(ctx context.Context) error {
	upper, err := ix.Store.GetStateUint(ctx, store.StateTransferCheckpoint)
	if err == store.ErrNotFound {
		// Start from where the cold-start backfill began.
		upper, err = ix.Store.GetStateUint(ctx, store.StateMicropayCheckpoint)
		if err != nil {
			return nil // tail indexer has not run yet
		}
		tip, tipErr := ix.RPC.BlockNumber(ctx)
		if tipErr != nil {
			return tipErr
		}
		if tip > ix.Tuning.BackfillBlocks {
			upper = tip - ix.Tuning.BackfillBlocks
		}
	} else if err != nil {
		return err
	}

	tip, err := ix.RPC.BlockNumber(ctx)
	if err != nil {
		return err
	}
	var floor uint64
	if tip > 2*ix.Tuning.BackfillBlocks {
		floor = tip - 2*ix.Tuning.BackfillBlocks
	}
	if upper <= floor {
		return nil // backfill complete
	}

	clock := newBlockClock(ix.RPC)
	for i := 0; i < backfillChunksPerRun && upper > floor; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		span := ix.histChunker.Size()
		var from uint64
		if upper > floor+span {
			from = upper - span
		} else {
			from = floor
		}

		inserted, _, err := ix.indexChunk(ctx, clock, from, upper-1)
		if errors.Is(err, chain.ErrRangeTooLarge) {
			ix.histChunker.Shrink()
			i--
			continue
		}
		if err != nil {
			return err
		}
		ix.histChunker.Grow()

		if err := ix.Store.SetStateUint(ctx, store.StateTransferCheckpoint, from); err != nil {
			return err
		}
		if inserted > 0 {
			log.Printf("[Indexer] backfilled blocks %d-%d: %d transfers", from, upper-1, inserted)
		}
		upper = from
	}
	return nil
}

// RefreshAggregates recomputes rolling stats for recently active wallets,
// the catch-all behind the per-chunk refresh. Runs at most once per UTC
// day; the scheduler checks in more often but extra invocations no-op.
func (ix *Indexer) RefreshAggregates(ctx context.Context) error {
	now := time.Now().UTC()
	if raw, err := ix.Store.GetState(ctx, store.StateLastAggregation); err == nil {
		if last, parseErr := store.ParseTime(raw); parseErr == nil &&
			last.UTC().Format("2006-01-02") == now.Format("2006-01-02") {
			return nil
		}
	}
	since := now.AddDate(0, 0, -30).Format(store.TimeFormat)
	wallets, err := ix.Store.ActiveWallets(ctx, since, 5000)
	if err != nil {
		return err
	}
	for _, w := range wallets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ix.Store.RefreshWalletStats(ctx, w, now); err != nil {
			log.Printf("[Indexer] aggregate refresh failed for %s: %v", w, err)
		}
	}
	if err := ix.Store.SetState(ctx, store.StateLastAggregation, now.Format(store.TimeFormat)); err != nil {
		return err
	}
	log.Printf("[Indexer] aggregates refreshed for %d wallets", len(wallets))
	return nil
}

// PruneRetention drops raw transfers past the retention horizon. The
// wallet and relationship aggregates keep the long-run totals.
func (ix *Indexer) PruneRetention(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -ix.Tuning.RetentionDays).Format(store.TimeFormat)
	n, err := ix.Store.PruneTransfers(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Indexer] pruned %d transfers older than %d days", n, ix.Tuning.RetentionDays)
	}
	snaps, err := ix.Store.PruneDecaySnapshots(ctx, cutoff)
	if err != nil {
		return err
	}
	if snaps > 0 {
		log.Printf("[Indexer] pruned %d decay snapshots", snaps)
	}
	return nil
}
