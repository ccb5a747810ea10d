package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrRangeTooLarge signals that a log query covered too many results for
// the RPC provider; the indexer reacts by halving its chunk size.
var ErrRangeTooLarge = errors.New("chain: log range too large")

// RPC is the narrow chain surface the core depends on. Production wires
// an ethclient-backed implementation; tests substitute a double.
type RPC interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionSender(ctx context.Context, txHash common.Hash, blockHash common.Hash, index uint) (common.Address, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Client adapts go-ethereum's ethclient to the RPC interface.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the chain RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	log.Printf("[Chain] Connected to RPC at %s", url)
	return &Client{eth: ec}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Raw exposes the underlying ethclient for the publisher's tx plumbing.
func (c *Client) Raw() *ethclient.Client {
	return c.eth
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil && isRangeError(err) {
		return nil, ErrRangeTooLarge
	}
	return logs, err
}

func (c *Client) TransactionSender(ctx context.Context, txHash, blockHash common.Hash, index uint) (common.Address, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, err
	}
	return c.eth.TransactionSender(ctx, tx, blockHash, index)
}

func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.NonceAt(ctx, account, nil)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// isRangeError matches the provider-specific "too many results" family of
// errors. Providers phrase this differently; substring matching is the
// only portable option.
func isRangeError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too large") ||
		strings.Contains(msg, "too many results") ||
		strings.Contains(msg, "query returned more than") ||
		strings.Contains(msg, "block range")
}

// NormalizeAddress lowercases a hex address for use as a store key.
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseAddress validates and normalizes a user-supplied wallet string.
func ParseAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("invalid address: %q", s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}
