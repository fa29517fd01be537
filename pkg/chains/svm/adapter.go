// Package svm implements the token-expiring chain family on solana-go.
// Transactions are built against a recent blockhash from the network's
// rolling validity window, or against a durable nonce for unbounded
// submission windows.
package svm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// Adapter provides SVM wallet operations for a set of configured chains
type Adapter struct {
	logger *slog.Logger

	mu        sync.Mutex
	catalog   map[string]chains.Chain
	activeID  string
	rpc       *RPCClient
	key       solana.PrivateKey
	connected bool
}

// Verify Adapter implements the family contract
var _ chains.ChainAdapter = (*Adapter)(nil)

// NewAdapter creates an SVM adapter over the given chain descriptors. The
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
		if d.Family != chains.FamilySVM {
			return nil, fmt.Errorf("chain %s is not an SVM chain", d.ID)
		}
		if len(d.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %s has no RPC endpoints", d.ID)
		}
		catalog[d.ID] = d
	}

	active := descriptors[0]
	return &Adapter{
		logger:   logger,
		catalog:  catalog,
		activeID: active.ID,
		rpc:      NewRPCClient(active.ID, active.RPCEndpoints),
	}, nil
}

// Family implements chains.ChainAdapter
func (a *Adapter) Family() chains.Family {
	return chains.FamilySVM
}

// Connect implements chains.ChainAdapter. State is committed only after
// the endpoint handshake succeeds.
func (a *Adapter) Connect(ctx context.Context, connector chains.Connector) (*chains.Account, error) {
	raw, err := connector.PrivateKey()
	if err != nil {
		return nil, &chains.ConnectionError{Connector: connector.ID(), Err: err}
	}
	key, ok := raw.(solana.PrivateKey)
	if !ok {
		return nil, &chains.ConnectionError{
			Connector: connector.ID(),
			Err:       fmt.Errorf("invalid private key type for SVM"),
		}
	}

	if err := a.client().Health(ctx); err != nil {
		return nil, &chains.ConnectionError{Connector: connector.ID(), Err: err}
	}
	if ctx.Err() != nil {
		return nil, &chains.TimeoutError{Op: "connect", Err: ctx.Err()}
	}

	address := key.PublicKey().String()

	a.mu.Lock()
	a.key = key
	a.connected = true
	chainID := a.activeID
	a.mu.Unlock()

	a.logger.Info("wallet connected", "family", "svm", "chain", chainID, "address", address)

	return &chains.Account{
		Address: address,
		ChainID: chainID,
	}, nil
}

// Disconnect implements chains.ChainAdapter. Idempotent.
func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.key = nil
	a.connected = false
	return nil
}

// SwitchChain implements chains.ChainAdapter; the prior chain stays active
// unless the target's endpoints answered
func (a *Adapter) SwitchChain(ctx context.Context, chainID string) error {
	a.mu.Lock()
	target, ok := a.catalog[chainID]
	a.mu.Unlock()
	if !ok {
		return &chains.UnsupportedChainError{ChainID: chainID, Family: chains.FamilySVM}
	}

	candidate := NewRPCClient(target.ID, target.RPCEndpoints)
	if err := candidate.Health(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return &chains.TimeoutError{Op: "switch chain", Err: ctx.Err()}
	}

	a.mu.Lock()
	a.activeID = target.ID
	a.rpc = candidate
	a.mu.Unlock()

	a.logger.Info("switched chain", "family", "svm", "chain", target.ID)
	return nil
}

// GetBalance implements chains.ChainAdapter. Returns the balance in
// lamports as a decimal string.
func (a *Adapter) GetBalance(ctx context.Context, address string) (string, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", fmt.Errorf("invalid SVM address: %w", err)
	}

	lamports, err := a.client().Balance(ctx, pubkey)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(lamports, 10), nil
}

// SignMessage implements chains.ChainAdapter with the connected Ed25519 key
func (a *Adapter) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	a.mu.Lock()
	key := a.key
	a.mu.Unlock()
	if key == nil {
		return nil, &chains.SigningRejectedError{Err: fmt.Errorf("no connected key")}
	}

	signature, err := key.Sign(message)
	if err != nil {
		return nil, &chains.SigningRejectedError{Err: err}
	}
	return signature[:], nil
}

// SubmitTransaction implements chains.ChainAdapter. The request's validity
// token supplies the recent blockhash; in durable mode the first
// instruction advances the nonce account named by the request.
func (a *Adapter) SubmitTransaction(ctx context.Context, tx *chains.TransactionRequest) (string, error) {
	a.mu.Lock()
	key := a.key
	chainID := a.activeID
	a.mu.Unlock()
	if key == nil {
		return "", &chains.SubmissionError{Err: fmt.Errorf("no connected key")}
	}
	if tx.Token.Value == "" {
		return "", &chains.SubmissionError{Err: fmt.Errorf("missing validity token")}
	}

	to, err := solana.PublicKeyFromBase58(tx.To)
	if err != nil {
		return "", &chains.SubmissionError{Err: fmt.Errorf("invalid recipient address: %w", err)}
	}
	lamports, err := strconv.ParseUint(tx.Value, 10, 64)
	if err != nil {
		return "", &chains.SubmissionError{Err: fmt.Errorf("invalid value: %q", tx.Value)}
	}
	blockhash, err := solana.HashFromBase58(tx.Token.Value)
	if err != nil {
		return "", &chains.SubmissionError{Err: fmt.Errorf("invalid validity token: %w", err)}
	}

	from := key.PublicKey()
	instructions := make([]solana.Instruction, 0, 2)

	if tx.NonceAccount != "" {
		nonceAccount, err := solana.PublicKeyFromBase58(tx.NonceAccount)
		if err != nil {
			return "", &chains.SubmissionError{Err: fmt.Errorf("invalid nonce account: %w", err)}
		}
		// Durable mode: the advance must be the first instruction so the
		// stored token rotates exactly when this transaction lands
		instructions = append(instructions, system.NewAdvanceNonceAccountInstruction(
			nonceAccount,
			solana.SysVarRecentBlockHashesPubkey,
			from,
		).Build())
	}

	instructions = append(instructions, system.NewTransferInstruction(
		lamports,
		from,
		to,
	).Build())

	transaction, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", &chains.SubmissionError{Err: fmt.Errorf("failed to build transaction: %w", err)}
	}

	_, err = transaction.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(from) {
			return &key
		}
		return nil
	})
	if err != nil {
		return "", &chains.SigningRejectedError{Err: err}
	}

	sig, err := a.client().SendTransaction(ctx, transaction, tx.Token.Commitment)
	if err != nil {
		return "", err
	}

	a.logger.Info("transaction submitted",
		"family", "svm", "chain", chainID, "signature", sig,
		"durable", tx.NonceAccount != "")
	return sig, nil
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
