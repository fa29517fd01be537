package svm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// commitmentOf maps the engine's commitment levels onto the RPC's
var commitmentOf = map[chains.Commitment]rpc.CommitmentType{
	chains.CommitmentProcessed: rpc.CommitmentProcessed,
	chains.CommitmentConfirmed: rpc.CommitmentConfirmed,
	chains.CommitmentFinalized: rpc.CommitmentFinalized,
}

// RPCClient fans calls out over a chain's RPC endpoints with random-start
// round-robin failover
type RPCClient struct {
	chainID   string
	endpoints []string
}

// NewRPCClient creates a failover client over the given endpoints
func NewRPCClient(chainID string, endpoints []string) *RPCClient {
	return &RPCClient{chainID: chainID, endpoints: endpoints}
}

// withClient runs fn against the endpoints in random-start round-robin
// order, cycling the list until fn succeeds or the attempt budget runs out
func (r *RPCClient) withClient(ctx context.Context, fn func(*rpc.Client) error) error {
	if len(r.endpoints) == 0 {
		return &chains.NetworkError{Err: fmt.Errorf("no RPC endpoints for chain %s", r.chainID)}
	}

	startIdx := rand.Intn(len(r.endpoints))
	var lastErr error

	for i := 0; i < constants.MaxRPCRetries; i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &chains.TimeoutError{Op: "rpc call", Err: ctx.Err()}
			}
		}

		endpoint := r.endpoints[(startIdx+i)%len(r.endpoints)]
		err := fn(rpc.New(endpoint))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return &chains.TimeoutError{Op: "rpc call", Err: err}
			}
			lastErr = &chains.NetworkError{Endpoint: endpoint, Err: err}
			continue
		}
		return nil
	}

	return fmt.Errorf("all RPC endpoints failed for chain %s: %w", r.chainID, lastErr)
}

// Health checks that at least one endpoint answers
func (r *RPCClient) Health(ctx context.Context) error {
	return r.withClient(ctx, func(c *rpc.Client) error {
		_, err := c.GetHealth(ctx)
		return err
	})
}

// Balance returns the lamport balance at confirmed commitment
func (r *RPCClient) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := r.withClient(ctx, func(c *rpc.Client) error {
		out, err := c.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		lamports = out.Value
		return nil
	})
	return lamports, err
}

// LatestBlockhash fetches the current validity token at the given
// commitment level, with the network-reported last valid block height
func (r *RPCClient) LatestBlockhash(ctx context.Context, commitment chains.Commitment) (hash string, lastValidHeight uint64, slot uint64, err error) {
	err = r.withClient(ctx, func(c *rpc.Client) error {
		out, err := c.GetLatestBlockhash(ctx, commitmentOf[commitment])
		if err != nil {
			return err
		}
		hash = out.Value.Blockhash.String()
		lastValidHeight = out.Value.LastValidBlockHeight
		slot = out.Context.Slot
		return nil
	})
	return hash, lastValidHeight, slot, err
}

// IsBlockhashValid asks the network whether the blockhash is still inside
// the acceptance window
func (r *RPCClient) IsBlockhashValid(ctx context.Context, hash solana.Hash, commitment chains.Commitment) (bool, error) {
	var valid bool
	err := r.withClient(ctx, func(c *rpc.Client) error {
		out, err := c.IsBlockhashValid(ctx, hash, commitmentOf[commitment])
		if err != nil {
			return err
		}
		valid = out.Value
		return nil
	})
	return valid, err
}

// BlockHeight returns the current block height at confirmed commitment
func (r *RPCClient) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.withClient(ctx, func(c *rpc.Client) error {
		h, err := c.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	return height, err
}

// SendTransaction broadcasts a signed transaction and returns its signature
func (r *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, commitment chains.Commitment) (string, error) {
	var sig solana.Signature
	err := r.withClient(ctx, func(c *rpc.Client) error {
		s, err := c.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: commitmentOf[commitment],
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	if err != nil {
		return "", &chains.SubmissionError{Err: err}
	}
	return sig.String(), nil
}

// SignatureStatus polls a transaction signature's confirmation status.
// Returns (status, found, err); found is false while the network has not
// observed the signature.
func (r *RPCClient) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, bool, error) {
	var status *rpc.SignatureStatusesResult
	var found bool
	err := r.withClient(ctx, func(c *rpc.Client) error {
		out, err := c.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			found = false
			return nil
		}
		status = out.Value[0]
		found = true
		return nil
	})
	return status, found, err
}

// AccountData fetches an account's raw binary data
func (r *RPCClient) AccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	var data []byte
	err := r.withClient(ctx, func(c *rpc.Client) error {
		out, err := c.GetAccountInfo(ctx, pubkey)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return fmt.Errorf("account %s not found", pubkey)
		}
		data = out.Value.Data.GetBinary()
		return nil
	})
	return data, err
}
