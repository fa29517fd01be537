package svm

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// KeyConnector is a named in-process key provider for SVM chains
type KeyConnector struct {
	id  string
	key solana.PrivateKey
}

var _ chains.Connector = (*KeyConnector)(nil)

// NewKeyConnector creates a connector from a hex-encoded Ed25519 key:
// either the 32-byte seed or the full 64-byte private key
func NewKeyConnector(id, privateKeyHex string) (*KeyConnector, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	var key solana.PrivateKey
	switch len(raw) {
	case 32:
		key = solana.PrivateKey(ed25519.NewKeyFromSeed(raw))
	case 64:
		key = solana.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64 bytes)", len(raw))
	}

	return &KeyConnector{id: id, key: key}, nil
}

// NewBase58KeyConnector creates a connector from a base58-encoded private
// key
func NewBase58KeyConnector(id, privateKeyBase58 string) (*KeyConnector, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, err
	}
	return &KeyConnector{id: id, key: key}, nil
}

// NewRandomConnector creates a connector with a freshly generated keypair
func NewRandomConnector(id string) *KeyConnector {
	return &KeyConnector{id: id, key: solana.NewWallet().PrivateKey}
}

// ID implements chains.Connector
func (c *KeyConnector) ID() string {
	return c.id
}

// PrivateKey implements chains.Connector
func (c *KeyConnector) PrivateKey() (interface{}, error) {
	return c.key, nil
}

// Address returns the connector's derived address
func (c *KeyConnector) Address() string {
	return c.key.PublicKey().String()
}
