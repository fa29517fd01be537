package svm

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// nonceAccountDataSize is the serialized size of an initialized system
// nonce account: version u32, state u32, authority 32B, durable nonce 32B,
// lamports-per-signature u64
const nonceAccountDataSize = 80

const nonceStateInitialized = 1

// NonceAccountState is the decoded on-chain state of a durable nonce
// account
type NonceAccountState struct {
	Authority            solana.PublicKey
	Nonce                solana.Hash
	LamportsPerSignature uint64
}

// decodeNonceAccount decodes the system program's nonce account layout
func decodeNonceAccount(data []byte) (*NonceAccountState, error) {
	if len(data) < nonceAccountDataSize {
		return nil, fmt.Errorf("nonce account data too short: %d bytes", len(data))
	}

	decoder := bin.NewBinDecoder(data)

	if _, err := decoder.ReadUint32(bin.LE); err != nil { // version
		return nil, err
	}
	state, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	if state != nonceStateInitialized {
		return nil, fmt.Errorf("nonce account not initialized (state %d)", state)
	}

	authorityBytes, err := decoder.ReadNBytes(32)
	if err != nil {
		return nil, err
	}
	nonceBytes, err := decoder.ReadNBytes(32)
	if err != nil {
		return nil, err
	}
	lamports, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}

	st := &NonceAccountState{LamportsPerSignature: lamports}
	copy(st.Authority[:], authorityBytes)
	copy(st.Nonce[:], nonceBytes)
	return st, nil
}

// DurableToken implements tracker.DurableSource: it reads the durable
// token currently stored in the nonce account. Durable tokens are exempt
// from queue expiration; the advance instruction rotates them on use.
func (a *Adapter) DurableToken(ctx context.Context, nonceAccount string) (chains.ValidityToken, error) {
	pubkey, err := solana.PublicKeyFromBase58(nonceAccount)
	if err != nil {
		return chains.ValidityToken{}, fmt.Errorf("invalid nonce account: %w", err)
	}

	data, err := a.client().AccountData(ctx, pubkey)
	if err != nil {
		return chains.ValidityToken{}, err
	}

	state, err := decodeNonceAccount(data)
	if err != nil {
		return chains.ValidityToken{}, err
	}

	return chains.ValidityToken{
		Value:      state.Nonce.String(),
		Commitment: chains.CommitmentFinalized,
		Durable:    true,
	}, nil
}
