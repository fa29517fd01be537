// Package evm implements the account-model chain family on go-ethereum.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// Adapter provides EVM wallet operations for a set of configured chains
type Adapter struct {
	logger    *slog.Logger
	endpoints *EndpointProvider

	mu          sync.Mutex
	catalog     map[string]chains.Chain
	activeID    string
	rpc         *RPCClient
	key         *ecdsa.PrivateKey
	address     common.Address
	connected   bool
	refreshStop chan struct{}
}

// Verify Adapter implements the family contract
var _ chains.ChainAdapter = (*Adapter)(nil)

// NewAdapter creates an EVM adapter over the given chain descriptors. The
// first descriptor is the initial active chain.
func NewAdapter(logger *slog.Logger, descriptors ...chains.Chain) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("at least one chain descriptor required")
	}

	catalog := make(map[string]chains.Chain, len(descriptors))
	for _, d := range descriptors {
		if d.Family != chains.FamilyEVM {
			return nil, fmt.Errorf("chain %s is not an EVM chain", d.ID)
		}
		if len(d.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %s has no RPC endpoints", d.ID)
		}
		catalog[d.ID] = d
	}

	active := descriptors[0]
	provider := NewEndpointProvider(logger, descriptors...)
	return &Adapter{
		logger:    logger,
		endpoints: provider,
		catalog:   catalog,
		activeID:  active.ID,
		rpc:       NewRPCClient(active.ID, provider.Endpoints(active.ID)),
	}, nil
}

// Family implements chains.ChainAdapter
func (a *Adapter) Family() chains.Family {
	return chains.FamilyEVM
}

// Connect implements chains.ChainAdapter. The session is committed only
// after the endpoint handshake succeeds, so a cancelled connect leaves the
// adapter fully disconnected.
func (a *Adapter) Connect(ctx context.Context, connector chains.Connector) (*chains.Account, error) {
	raw, err := connector.PrivateKey()
	if err != nil {
		return nil, &chains.ConnectionError{Connector: connector.ID(), Err: err}
	}
	key, ok := raw.(*ecdsa.PrivateKey)
	if !ok {
		return nil, &chains.ConnectionError{
			Connector: connector.ID(),
			Err:       fmt.Errorf("invalid private key type for EVM"),
		}
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	// Reachability handshake before any state is touched
	if _, err := a.client().BlockNumber(ctx); err != nil {
		return nil, &chains.ConnectionError{Connector: connector.ID(), Err: err}
	}
	if ctx.Err() != nil {
		return nil, &chains.TimeoutError{Op: "connect", Err: ctx.Err()}
	}

	a.mu.Lock()
	a.key = key
	a.address = address
	a.connected = true
	chainID := a.activeID
	if a.refreshStop == nil {
		a.refreshStop = make(chan struct{})
		a.endpoints.StartBackgroundRefresh(a.refreshStop)
	}
	a.mu.Unlock()

	a.logger.Info("wallet connected", "family", "evm", "chain", chainID, "address", address.Hex())

	return &chains.Account{
		Address: address.Hex(),
		ChainID: chainID,
	}, nil
}

// Disconnect implements chains.ChainAdapter. Idempotent.
func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.key = nil
	a.address = common.Address{}
	a.connected = false
	if a.refreshStop != nil {
		close(a.refreshStop)
		a.refreshStop = nil
	}
	return nil
}

// SwitchChain implements chains.ChainAdapter. The active chain changes only
// after the target's endpoints answered; on failure or cancellation the
// prior chain stays active.
func (a *Adapter) SwitchChain(ctx context.Context, chainID string) error {
	a.mu.Lock()
	target, ok := a.catalog[chainID]
	a.mu.Unlock()
	if !ok {
		return &chains.UnsupportedChainError{ChainID: chainID, Family: chains.FamilyEVM}
	}

	candidate := NewRPCClient(target.ID, a.endpoints.Endpoints(target.ID))
	if _, err := candidate.BlockNumber(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return &chains.TimeoutError{Op: "switch chain", Err: ctx.Err()}
	}

	a.mu.Lock()
	a.activeID = target.ID
	a.rpc = candidate
	a.mu.Unlock()

	a.logger.Info("switched chain", "family", "evm", "chain", target.ID)
	return nil
}

// GetBalance implements chains.ChainAdapter. Returns the balance in wei as
// a decimal string.
func (a *Adapter) GetBalance(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid EVM address: %s", address)
	}

	balance, err := a.client().BalanceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return "", err
	}
	return balance.String(), nil
}

// SignMessage implements chains.ChainAdapter using EIP-191 personal-message
// hashing
func (a *Adapter) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	a.mu.Lock()
	key := a.key
	a.mu.Unlock()
	if key == nil {
		return nil, &chains.SigningRejectedError{Err: fmt.Errorf("no connected key")}
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256([]byte(prefixed))

	signature, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, &chains.SigningRejectedError{Err: err}
	}

	// Convert v from recovery id to ethereum format (27/28)
	if len(signature) == 65 {
		signature[64] += 27
	}
	return signature, nil
}

// SubmitTransaction implements chains.ChainAdapter
func (a *Adapter) SubmitTransaction(ctx context.Context, tx *chains.TransactionRequest) (string, error) {
	a.mu.Lock()
	key := a.key
	from := a.address
	chainName := a.activeID
	a.mu.Unlock()
	if key == nil {
		return "", &chains.SubmissionError{Err: fmt.Errorf("no connected key")}
	}
	if !common.IsHexAddress(tx.To) {
		return "", &chains.SubmissionError{Err: fmt.Errorf("invalid recipient address: %s", tx.To)}
	}

	hash, err := a.client().SendTransfer(ctx, key, from, common.HexToAddress(tx.To), tx.Value, tx.Data)
	if err != nil {
		return "", err
	}

	a.logger.Info("transaction submitted", "family", "evm", "chain", chainName, "hash", hash)
	return hash, nil
}

// IsChainSupported implements chains.ChainAdapter
func (a *Adapter) IsChainSupported(chainID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.catalog[chainID]
	return ok
}

// ActiveChain returns the active chain id
func (a *Adapter) ActiveChain() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeID
}

func (a *Adapter) client() *RPCClient {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rpc
}
