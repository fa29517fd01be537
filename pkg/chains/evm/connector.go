package evm

import (
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// KeyConnector is a named in-process key provider for EVM chains
type KeyConnector struct {
	id  string
	key *ecdsa.PrivateKey
}

var _ chains.Connector = (*KeyConnector)(nil)

// NewKeyConnector creates a connector from a hex-encoded secp256k1 private
// key (with or without 0x prefix)
func NewKeyConnector(id, privateKeyHex string) (*KeyConnector, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, err
	}
	return &KeyConnector{id: id, key: key}, nil
}

// NewRandomConnector creates a connector with a freshly generated key
func NewRandomConnector(id string) (*KeyConnector, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &KeyConnector{id: id, key: key}, nil
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
	return crypto.PubkeyToAddress(c.key.PublicKey).Hex()
}
