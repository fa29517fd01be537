package tracker

import (
	"context"
	"sync"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// DurableSource reads the durable token stored in an on-chain nonce
// account. Implemented by adapters of families that support durable mode.
type DurableSource interface {
	DurableToken(ctx context.Context, nonceAccount string) (chains.ValidityToken, error)
}

// DurableTokenStore caches one durable token per nonce account and
// enforces single use: a transaction built against a stored token rotates
// it, and the stale value can never back another submission.
//
// Durable-mode transactions are exempt from queue expiration; they resolve
// only to Confirmed or Failed.
type DurableTokenStore struct {
	source DurableSource

	mu     sync.Mutex
	tokens map[string]chains.ValidityToken
	spent  map[string]string // nonceAccount -> last token value consumed
}

// NewDurableTokenStore creates a store over the given source
func NewDurableTokenStore(source DurableSource) *DurableTokenStore {
	return &DurableTokenStore{
		source: source,
		tokens: make(map[string]chains.ValidityToken),
		spent:  make(map[string]string),
	}
}

// Token returns the durable token for a nonce account, fetching from the
// chain when no usable cached value exists. If the chain still reports a
// value already consumed by a submitted transaction (the advance has not
// landed yet), the call fails fast with StaleTokenError rather than
// permitting reuse.
func (s *DurableTokenStore) Token(ctx context.Context, nonceAccount string) (chains.ValidityToken, error) {
	s.mu.Lock()
	cached, ok := s.tokens[nonceAccount]
	spentValue := s.spent[nonceAccount]
	s.mu.Unlock()

	if ok && cached.Value != spentValue {
		return cached, nil
	}

	token, err := s.source.DurableToken(ctx, nonceAccount)
	if err != nil {
		return chains.ValidityToken{}, err
	}
	token.Durable = true

	if token.Value == spentValue {
		return chains.ValidityToken{}, &chains.StaleTokenError{Token: token.Value}
	}

	s.mu.Lock()
	s.tokens[nonceAccount] = token
	s.mu.Unlock()

	return token, nil
}

// MarkSubmitted rotates the stored token after a transaction built against
// it was submitted. The advance instruction carried by that transaction
// rotates the on-chain value; until the rotation is observed, the old value
// is unusable.
func (s *DurableTokenStore) MarkSubmitted(nonceAccount string, token chains.ValidityToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spent[nonceAccount] = token.Value
	if cached, ok := s.tokens[nonceAccount]; ok && cached.Value == token.Value {
		delete(s.tokens, nonceAccount)
	}
}
