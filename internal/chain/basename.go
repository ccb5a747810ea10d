package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// BasenameResolver answers whether a wallet owns a basename. Swappable so
// tests can stub it and so deployments without a registry run with the
// null resolver.
type BasenameResolver interface {
	HasBasename(ctx context.Context, wallet common.Address) (bool, error)
}

// registryResolver queries the reverse registrar via eth_call. A non-zero
// node for the wallet's reverse record means a basename is set.
type registryResolver struct {
	rpc      RPC
	registry common.Address
	selector []byte
}

// NewRegistryResolver builds a resolver against the given reverse
// registrar contract.
func NewRegistryResolver(rpc RPC, registry common.Address) BasenameResolver {
	return &registryResolver{
		rpc:      rpc,
		registry: registry,
		selector: crypto.Keccak256([]byte("node(address)"))[:4],
	}
}

func (r *registryResolver) HasBasename(ctx context.Context, wallet common.Address) (bool, error) {
	data := make([]byte, 0, 36)
	data = append(data, r.selector...)
	data = append(data, common.LeftPadBytes(wallet.Bytes(), 32)...)
	out, err := r.rpc.CallContract(ctx, ethereum.CallMsg{To: &r.registry, Data: data})
	if err != nil {
		return false, err
	}
	if len(out) < 32 {
		return false, nil
	}
	return new(big.Int).SetBytes(out[:32]).Sign() != 0, nil
}

// NullResolver always reports no basename; used when no registry address
// is configured.
type NullResolver struct{}

func (NullResolver) HasBasename(ctx context.Context, wallet common.Address) (bool, error) {
	return false, nil
}
