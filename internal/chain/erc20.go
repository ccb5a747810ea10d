package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event topics of the payment token. Transfer is the standard ERC-20
// event; AuthorizationUsed is emitted only by EIP-3009 settlement paths
// (transferWithAuthorization), which is what distinguishes a micro-payment
// settlement from an incidental transfer.
var (
	TransferTopic          = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	AuthorizationUsedTopic = crypto.Keccak256Hash([]byte("AuthorizationUsed(address,bytes32)"))

	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// TokenDecimals is the stablecoin precision; amounts are stored as floats
// with this many decimal places.
const TokenDecimals = 6

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	TxHash      common.Hash
	BlockNumber uint64
	BlockHash   common.Hash
	TxIndex     uint
	From        common.Address
	To          common.Address
	Amount      float64 // token units, 6-dp
}

// FetchTransferLogs returns decoded Transfer events of the token contract
// in [from, to].
func FetchTransferLogs(ctx context.Context, rpc RPC, token common.Address, from, to uint64) ([]TransferEvent, error) {
	logs, err := rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferTopic}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]TransferEvent, 0, len(logs))
	for _, lg := range logs {
		ev, ok := decodeTransfer(lg)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// FetchAuthorizationSet returns the set of tx hashes in [from, to] that
// emitted AuthorizationUsed on the token contract.
func FetchAuthorizationSet(ctx context.Context, rpc RPC, token common.Address, from, to uint64) (map[common.Hash]types.Log, error) {
	logs, err := rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{AuthorizationUsedTopic}},
	})
	if err != nil {
		return nil, err
	}
	set := make(map[common.Hash]types.Log, len(logs))
	for _, lg := range logs {
		set[lg.TxHash] = lg
	}
	return set, nil
}

func decodeTransfer(lg types.Log) (TransferEvent, bool) {
	if len(lg.Topics) != 3 || len(lg.Data) < 32 {
		return TransferEvent{}, false
	}
	amount := new(big.Int).SetBytes(lg.Data[:32])
	return TransferEvent{
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash,
		TxIndex:     lg.TxIndex,
		From:        common.BytesToAddress(lg.Topics[1].Bytes()),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount:      UnitsToFloat(amount),
	}, true
}

// UnitsToFloat converts raw token units to 6-dp float amounts.
func UnitsToFloat(units *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(units),
		big.NewFloat(1e6),
	).Float64()
	return f
}

// TokenBalance reads balanceOf(account) on the token contract.
func TokenBalance(ctx context.Context, rpc RPC, token, account common.Address) (float64, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(account.Bytes(), 32)...)
	out, err := rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, fmt.Errorf("balanceOf call: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("balanceOf: short return (%d bytes)", len(out))
	}
	return UnitsToFloat(new(big.Int).SetBytes(out[:32])), nil
}

// WeiToEther converts a native balance to ether units.
func WeiToEther(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e18),
	).Float64()
	return f
}
