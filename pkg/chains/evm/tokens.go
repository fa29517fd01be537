package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// Confirmation depth required per commitment level. EVM has no expiring
// token queue, so commitment only affects how deep a receipt must be buried
// before it is reported terminal.
var commitmentDepth = map[chains.Commitment]uint64{
	chains.CommitmentProcessed: 0,
	chains.CommitmentConfirmed: 1,
	chains.CommitmentFinalized: 64,
}

// LatestToken implements tracker.TokenSource. EVM transactions carry no
// expiring validity token; the returned token never expires.
func (a *Adapter) LatestToken(ctx context.Context, commitment chains.Commitment) (chains.ValidityToken, error) {
	height, err := a.client().BlockNumber(ctx)
	if err != nil {
		return chains.ValidityToken{}, err
	}
	return chains.ValidityToken{
		FetchedAtHeight: height,
		Commitment:      commitment,
	}, nil
}

// IsTokenValid implements tracker.TokenSource; non-expiring tokens are
// always valid
func (a *Adapter) IsTokenValid(_ context.Context, _ chains.ValidityToken) (bool, error) {
	return true, nil
}

// CurrentHeight implements tracker.TokenSource
func (a *Adapter) CurrentHeight(ctx context.Context) (uint64, error) {
	return a.client().BlockNumber(ctx)
}

// StatusOf implements tracker.TokenSource by polling the transaction
// receipt and requiring the commitment level's confirmation depth
func (a *Adapter) StatusOf(ctx context.Context, id string, commitment chains.Commitment) (chains.TxStatus, error) {
	receipt, err := a.client().TransactionReceipt(ctx, common.HexToHash(id))
	if err != nil {
		return chains.TxSubmitted, err
	}
	if receipt == nil {
		return chains.TxSubmitted, nil
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return chains.TxFailed, nil
	}

	depth := commitmentDepth[commitment]
	if depth == 0 {
		return chains.TxConfirmed, nil
	}

	height, err := a.client().BlockNumber(ctx)
	if err != nil {
		return chains.TxSubmitted, err
	}
	if height >= receipt.BlockNumber.Uint64()+depth {
		return chains.TxConfirmed, nil
	}
	return chains.TxSubmitted, nil
}
