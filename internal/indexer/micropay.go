package indexer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trustrank/scoring-engine/internal/chain"
	"github.com/trustrank/scoring-engine/internal/config"
	"github.com/trustrank/scoring-engine/internal/metrics"
	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Tail indexer
//
// Follows the chain tip for payment-token activity. Each chunk pulls two
// log sets: ERC-20 Transfer events and AuthorizationUsed events. A
// transfer is a micro-payment settlement when its transaction also emitted
// AuthorizationUsed, its amount is at or under the settlement ceiling,
// and (when a facilitator is configured) the transaction sender is the
// facilitator. Everything else is indexed as a plain transfer so the
// relationship graph still sees it.
//
// The checkpoint advances only after a chunk is fully persisted, so a
// crash mid-chunk re-indexes that chunk; tx_hash idempotence makes the
// replay harmless.

// Indexer drives both the tail follow and the deep-history backfill.
type Indexer struct {
	Store       *store.Store
	RPC         chain.RPC
	Token       common.Address
	Facilitator common.Address // zero address disables the sender filter
	Tuning      config.Tuning

	tailChunker *Chunker
	histChunker *Chunker
}

func New(st *store.Store, rpc chain.RPC, token, facilitator common.Address, tuning config.Tuning) *Indexer {
	return &Indexer{
		Store:       st,
		RPC:         rpc,
		Token:       token,
		Facilitator: facilitator,
		Tuning:      tuning,
		tailChunker: NewChunker(tuning.MicropayChunk),
		histChunker: NewChunker(tuning.TransferChunk),
	}
}

// IndexTail advances the micro-payment checkpoint to the chain tip. One
// invocation processes at most the catch-up ceiling; a node that has been
// down for longer jumps forward and leaves the gap unindexed rather than
// grinding for hours.
func (ix *Indexer) IndexTail(ctx context.Context) error {
	tip, err := ix.RPC.BlockNumber(ctx)
	if err != nil {
		return err
	}

	from, err := ix.Store.GetStateUint(ctx, store.StateMicropayCheckpoint)
	switch {
	case err == store.ErrNotFound:
		if tip > ix.Tuning.BackfillBlocks {
			from = tip - ix.Tuning.BackfillBlocks
		}
		log.Printf("[Indexer] cold start, backfilling from block %d", from)
	case err != nil:
		return err
	default:
		from++
	}
	if from > tip {
		return nil
	}

	catchup := false
	if tip-from > ix.Tuning.CatchupCeiling {
		skipTo := tip - ix.Tuning.CatchupCeiling
		log.Printf("[Indexer] %d blocks behind, skipping %d -> %d", tip-from, from, skipTo)
		from = skipTo
		catchup = true
	}

	clock := newBlockClock(ix.RPC)
	touched := make(map[string]bool)

	for from <= tip {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		to := ix.tailChunker.Span(from, tip)

		inserted, wallets, err := ix.indexChunk(ctx, clock, from, to)
		if errors.Is(err, chain.ErrRangeTooLarge) {
			ix.tailChunker.Shrink()
			continue
		}
		if err != nil {
			return err
		}
		ix.tailChunker.Grow()

		if err := ix.Store.SetStateUint(ctx, store.StateMicropayCheckpoint, to); err != nil {
			return err
		}
		metrics.IndexerCheckpoint.Set(float64(to))
		if inserted > 0 {
			metrics.TransfersIndexed.Add(float64(inserted))
			log.Printf("[Indexer] blocks %d-%d: %d transfers indexed", from, to, inserted)
		}
		for w := range wallets {
			touched[w] = true
		}
		from = to + 1
	}

	// Stats refresh is deferred to the aggregation job during catch-up;
	// interactive freshness matters less than reaching the tip.
	if !catchup {
		ix.refreshStats(ctx, touched)
	}
	return nil
}

// indexChunk fetches, classifies and persists one block span. Returns the
// number of newly inserted transfers and the set of touched wallets.
func (ix *Indexer) indexChunk(ctx context.Context, clock *blockClock, from, to uint64) (int, map[string]bool, error) {
	events, err := chain.FetchTransferLogs(ctx, ix.RPC, ix.Token, from, to)
	if err != nil {
		return 0, nil, err
	}
	if len(events) == 0 {
		return 0, nil, nil
	}
	authSet, err := chain.FetchAuthorizationSet(ctx, ix.RPC, ix.Token, from, to)
	if err != nil {
		return 0, nil, err
	}

	senders := ix.resolveSenders(ctx, events, authSet)

	batch := make([]models.Transfer, 0, len(events))
	wallets := make(map[string]bool, len(events)*2)
	for _, ev := range events {
		fromAddr := chain.NormalizeAddress(ev.From)
		toAddr := chain.NormalizeAddress(ev.To)
		batch = append(batch, models.Transfer{
			TxHash:      ev.TxHash.Hex(),
			BlockNumber: ev.BlockNumber,
			From:        fromAddr,
			To:          toAddr,
			Amount:      ev.Amount,
			Timestamp:   clock.At(ctx, ev.BlockNumber).Format(store.TimeFormat),
			Settlement:  ix.isSettlement(ev, authSet, senders),
		})
		wallets[fromAddr] = true
		wallets[toAddr] = true
	}

	inserted, err := ix.Store.IndexTransferBatch(ctx, batch)
	return inserted, wallets, err
}

// isSettlement applies the classification policy.
func (ix *Indexer) isSettlement(ev chain.TransferEvent, authSet map[common.Hash]types.Log, senders map[common.Hash]common.Address) bool {
	if _, ok := authSet[ev.TxHash]; !ok {
		return false
	}
	if ev.Amount > ix.Tuning.MicropayCeiling {
		return false
	}
	if ix.Facilitator == (common.Address{}) {
		return true
	}
	if senders == nil {
		// Sender filter waived for this chunk; authorization plus the
		// ceiling is evidence enough.
		return true
	}
	sender, ok := senders[ev.TxHash]
	if !ok {
		// Lookup failed for this one transaction. Without a sender the
		// facilitator check cannot pass, so index as a plain transfer.
		return false
	}
	return sender == ix.Facilitator
}

// resolveSenders looks up the tx sender of each authorization-bearing
// transaction, bounded parallelism. Above the skip threshold the lookups
// are not worth the RPC round-trips and the filter is waived for the
// chunk.
func (ix *Indexer) resolveSenders(ctx context.Context, events []chain.TransferEvent, authSet map[common.Hash]types.Log) map[common.Hash]common.Address {
	if ix.Facilitator == (common.Address{}) || len(authSet) == 0 {
		return nil
	}
	if len(authSet) > ix.Tuning.AuthLookupSkip {
		log.Printf("[Indexer] %d authorizations in chunk, skipping sender filter", len(authSet))
		return nil
	}

	type lookup struct {
		tx        common.Hash
		blockHash common.Hash
		index     uint
	}
	var lookups []lookup
	seen := make(map[common.Hash]bool)
	for _, ev := range events {
		if _, ok := authSet[ev.TxHash]; !ok || seen[ev.TxHash] {
			continue
		}
		seen[ev.TxHash] = true
		lookups = append(lookups, lookup{ev.TxHash, ev.BlockHash, ev.TxIndex})
	}

	senders := make(map[common.Hash]common.Address, len(lookups))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for _, l := range lookups {
		wg.Add(1)
		sem <- struct{}{}
		go func(l lookup) {
			defer wg.Done()
			defer func() { <-sem }()
			sender, err := ix.RPC.TransactionSender(ctx, l.tx, l.blockHash, l.index)
			if err != nil {
				log.Printf("[Indexer] sender lookup failed for %s: %v", l.tx.Hex(), err)
				return
			}
			mu.Lock()
			senders[l.tx] = sender
			mu.Unlock()
		}(l)
	}
	wg.Wait()
	return senders
}

// refreshStats recomputes rolling aggregates for wallets touched in this
// pass. Per-wallet failures are logged and skipped.
func (ix *Indexer) refreshStats(ctx context.Context, wallets map[string]bool) {
	now := time.Now().UTC()
	for w := range wallets {
		if ctx.Err() != nil {
			return
		}
		if err := ix.Store.RefreshWalletStats(ctx, w, now); err != nil {
			log.Printf("[Indexer] stats refresh failed for %s: %v", w, err)
		}
	}
}
