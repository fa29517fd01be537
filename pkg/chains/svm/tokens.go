package svm

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// confirmationLevel orders the RPC's confirmation statuses so an observed
// status can be compared against the requested commitment
var confirmationLevel = map[rpc.ConfirmationStatusType]int{
	rpc.ConfirmationStatusProcessed: 1,
	rpc.ConfirmationStatusConfirmed: 2,
	rpc.ConfirmationStatusFinalized: 3,
}

var requiredLevel = map[chains.Commitment]int{
	chains.CommitmentProcessed: 1,
	chains.CommitmentConfirmed: 2,
	chains.CommitmentFinalized: 3,
}

// LatestToken implements tracker.TokenSource. The returned token carries
// the network-reported last valid block height; tokens fetched at higher
// commitment levels are older and leave a shorter usable window.
func (a *Adapter) LatestToken(ctx context.Context, commitment chains.Commitment) (chains.ValidityToken, error) {
	hash, lastValidHeight, _, err := a.client().LatestBlockhash(ctx, commitment)
	if err != nil {
		return chains.ValidityToken{}, err
	}

	fetchedAt := uint64(0)
	if lastValidHeight >= constants.TokenAcceptanceBound-1 {
		fetchedAt = lastValidHeight - (constants.TokenAcceptanceBound - 1)
	}

	return chains.ValidityToken{
		Value:           hash,
		FetchedAtHeight: fetchedAt,
		LastValidHeight: lastValidHeight,
		Commitment:      commitment,
	}, nil
}

// IsTokenValid implements tracker.TokenSource by asking the network
// directly; durable tokens are always valid
func (a *Adapter) IsTokenValid(ctx context.Context, token chains.ValidityToken) (bool, error) {
	if !token.Expires() {
		return true, nil
	}

	hash, err := solana.HashFromBase58(token.Value)
	if err != nil {
		return false, fmt.Errorf("invalid validity token: %w", err)
	}
	return a.client().IsBlockhashValid(ctx, hash, token.Commitment)
}

// CurrentHeight implements tracker.TokenSource
func (a *Adapter) CurrentHeight(ctx context.Context) (uint64, error) {
	return a.client().BlockHeight(ctx)
}

// StatusOf implements tracker.TokenSource. An on-chain execution error is
// terminal Failed; a signature confirmed below the requested commitment
// level is still Submitted.
func (a *Adapter) StatusOf(ctx context.Context, id string, commitment chains.Commitment) (chains.TxStatus, error) {
	sig, err := solana.SignatureFromBase58(id)
	if err != nil {
		return chains.TxSubmitted, fmt.Errorf("invalid transaction signature: %w", err)
	}

	status, found, err := a.client().SignatureStatus(ctx, sig)
	if err != nil {
		return chains.TxSubmitted, err
	}
	if !found {
		return chains.TxSubmitted, nil
	}
	if status.Err != nil {
		return chains.TxFailed, nil
	}
	if confirmationLevel[status.ConfirmationStatus] >= requiredLevel[commitment] {
		return chains.TxConfirmed, nil
	}
	return chains.TxSubmitted, nil
}
