package chains

import (
	"context"
)

// Family identifies a class of blockchains sharing a wallet/transaction
// model. Adapter dispatch happens on this discriminator, never on the
// runtime type of an adapter instance.
type Family string

const (
	// FamilyEVM covers account/balance-model chains with nonce-free message
	// signing (Ethereum and compatibles).
	FamilyEVM Family = "evm"

	// FamilySVM covers chains whose transactions carry an expiring validity
	// token (a recent blockhash) instead of an account nonce.
	FamilySVM Family = "svm"
)

// NativeCurrency describes the chain's native asset
type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// Chain is an immutable chain descriptor. The first RPC endpoint is the
// primary; the rest are failovers.
type Chain struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name" json:"name"`
	Family         Family         `yaml:"family" json:"family"`
	NativeCurrency NativeCurrency `yaml:"native_currency" json:"nativeCurrency"`
	RPCEndpoints   []string       `yaml:"rpc_endpoints" json:"rpcEndpoints"`
}

// Account is the adapter-side result of a successful connect
type Account struct {
	Address string
	ChainID string

	// DisplayName is an optional naming-service alias for the address
	DisplayName string
}

// Connector is a named wallet-provider handle. In this engine connectors
// are in-process key providers; adapters type-assert the key material for
// their family.
type Connector interface {
	// ID returns the connector identifier used in configuration
	ID() string

	// PrivateKey returns the family-specific signing key
	// (*ecdsa.PrivateKey for EVM, solana.PrivateKey for SVM)
	PrivateKey() (interface{}, error)
}

// TransactionRequest is a chain-agnostic transfer request. Family-specific
// fields are ignored by adapters of other families.
type TransactionRequest struct {
	To string

	// Value is the amount in the chain's smallest unit, as a decimal string
	Value string

	// Data is optional EVM calldata
	Data []byte

	// Token is the validity token the transaction is built against.
	// Required for token-expiring families; ignored by EVM.
	Token ValidityToken

	// NonceAccount selects durable mode on SVM: the transaction's first
	// instruction advances this nonce account and Token must hold the
	// account's stored durable token.
	NonceAccount string
}

// ChainAdapter provides family-specific wallet operations behind one
// contract. One implementation per chain family; callers never inspect the
// concrete type.
//
// Every network-touching method honors ctx cancellation and either
// completes and updates adapter state or rolls back fully; a cancelled call
// never leaves the adapter half-connected.
type ChainAdapter interface {
	// Family returns the chain-family discriminator
	Family() Family

	// Connect establishes a wallet session using the given connector and
	// returns the derived account
	Connect(ctx context.Context, connector Connector) (*Account, error)

	// Disconnect tears down adapter-side session resources. Idempotent.
	Disconnect(ctx context.Context) error

	// SwitchChain moves the session to another chain of the same family
	SwitchChain(ctx context.Context, chainID string) error

	// GetBalance returns the native balance in the smallest unit as a
	// decimal string
	GetBalance(ctx context.Context, address string) (string, error)

	// SignMessage signs an arbitrary message with the connected key
	SignMessage(ctx context.Context, message []byte) ([]byte, error)

	// SubmitTransaction submits a transaction and returns its opaque
	// identifier (hash or signature)
	SubmitTransaction(ctx context.Context, tx *TransactionRequest) (string, error)

	// IsChainSupported reports whether the adapter can serve chainID
	IsChainSupported(chainID string) bool
}
