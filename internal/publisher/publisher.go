package publisher

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trustrank/scoring-engine/internal/chain"
	"github.com/trustrank/scoring-engine/internal/config"
	"github.com/trustrank/scoring-engine/internal/metrics"
	"github.com/trustrank/scoring-engine/internal/store"
	"github.com/trustrank/scoring-engine/pkg/models"
)

// Publisher mirrors high-confidence scores to the on-chain reputation
// contract. Only scores that moved meaningfully since their last
// publication are written; each run is capped and throttled so one cycle
// cannot drain the publisher key.

var tierOrdinal = map[models.Tier]uint8{
	models.TierUnverified:  0,
	models.TierEmerging:    1,
	models.TierEstablished: 2,
	models.TierTrusted:     3,
	models.TierElite:       4,
}

// updateReputation(address wallet, uint8 score, uint8 tier)
var updateSelector = crypto.Keccak256([]byte("updateReputation(address,uint8,uint8)"))[:4]

const mineTimeout = 60 * time.Second

type Publisher struct {
	Store    *store.Store
	Client   *chain.Client
	Contract common.Address
	Tuning   config.Tuning

	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

// New parses the publisher key. An empty key disables publishing; callers
// should not register the job in that case.
func New(st *store.Store, client *chain.Client, contract common.Address, keyHex string, tuning config.Tuning) (*Publisher, error) {
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("publisher key: %w", err)
	}
	return &Publisher{
		Store:    st,
		Client:   client,
		Contract: contract,
		Tuning:   tuning,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// PublishBatch writes one batch of changed scores on-chain.
func (p *Publisher) PublishBatch(ctx context.Context) error {
	candidates, err := p.Store.PublishCandidates(ctx,
		p.Tuning.PublishMinConf, p.Tuning.PublishMinDelta, p.Tuning.PublishBatch)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	bal, err := p.Client.BalanceAt(ctx, p.from)
	if err != nil {
		return err
	}
	if chain.WeiToEther(bal) < p.Tuning.PublishBalanceFloor {
		log.Printf("[Publisher] balance %.6f below floor, skipping %d candidates",
			chain.WeiToEther(bal), len(candidates))
		return nil
	}

	published := 0
	for _, sc := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		txHash, err := p.publishOne(ctx, &sc)
		if err != nil {
			log.Printf("[Publisher] publish failed for %s: %v", sc.Wallet, err)
			continue
		}
		if err := p.Store.RecordPublication(ctx, models.Publication{
			Wallet:             sc.Wallet,
			LastPublishedScore: sc.Composite,
			ModelVersion:       sc.ModelVersion,
			TxHash:             txHash,
			PublishedAt:        time.Now().UTC().Format(store.TimeFormat),
		}); err != nil {
			return err
		}
		metrics.ScoresPublished.Inc()
		published++

		select {
		case <-time.After(p.Tuning.PublishTxDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if published > 0 {
		log.Printf("[Publisher] published %d scores on-chain", published)
	}
	return nil
}

// publishOne signs, sends and waits for one reputation update.
func (p *Publisher) publishOne(ctx context.Context, sc *models.Score) (string, error) {
	eth := p.Client.Raw()

	if p.chainID == nil {
		id, err := eth.ChainID(ctx)
		if err != nil {
			return "", fmt.Errorf("chain id: %w", err)
		}
		p.chainID = id
	}

	nonce, err := eth.PendingNonceAt(ctx, p.from)
	if err != nil {
		return "", err
	}
	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, 4+96)
	data = append(data, updateSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(sc.Wallet).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes([]byte{uint8(sc.Composite)}, 32)...)
	data = append(data, common.LeftPadBytes([]byte{tierOrdinal[sc.Tier]}, 32)...)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &p.Contract,
		Gas:      120_000,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.key)
	if err != nil {
		return "", err
	}
	if err := eth.SendTransaction(ctx, signed); err != nil {
		return "", err
	}

	mineCtx, cancel := context.WithTimeout(ctx, mineTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(mineCtx, eth, signed)
	if err != nil {
		return "", fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}
