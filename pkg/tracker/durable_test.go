package tracker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// mockDurableSource serves the durable token currently stored on chain for
// each nonce account
type mockDurableSource struct {
	mu     sync.Mutex
	stored map[string]string // nonceAccount -> stored token value
	calls  int
}

func newMockDurableSource() *mockDurableSource {
	return &mockDurableSource{stored: make(map[string]string)}
}

func (m *mockDurableSource) DurableToken(ctx context.Context, nonceAccount string) (chains.ValidityToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	return chains.ValidityToken{
		Value:      m.stored[nonceAccount],
		Commitment: chains.CommitmentFinalized,
	}, nil
}

func (m *mockDurableSource) rotate(nonceAccount, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[nonceAccount] = value
}

func TestDurableTokenFetchAndCache(t *testing.T) {
	source := newMockDurableSource()
	source.rotate("nonce-1", "value-a")
	store := NewDurableTokenStore(source)

	token, err := store.Token(context.Background(), "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, "value-a", token.Value)
	assert.True(t, token.Durable, "store marks fetched tokens durable")

	// Second read serves the cache
	again, err := store.Token(context.Background(), "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, token.Value, again.Value)
	assert.Equal(t, 1, source.calls)
}

func TestDurableTokenSingleUse(t *testing.T) {
	source := newMockDurableSource()
	source.rotate("nonce-1", "value-a")
	store := NewDurableTokenStore(source)

	token, err := store.Token(context.Background(), "nonce-1")
	require.NoError(t, err)

	store.MarkSubmitted("nonce-1", token)

	// The on-chain advance has not landed; the chain still reports the
	// consumed value
	_, err = store.Token(context.Background(), "nonce-1")
	require.Error(t, err)

	var stale *chains.StaleTokenError
	assert.ErrorAs(t, err, &stale)
}

func TestDurableTokenRotation(t *testing.T) {
	source := newMockDurableSource()
	source.rotate("nonce-1", "value-a")
	store := NewDurableTokenStore(source)

	token, err := store.Token(context.Background(), "nonce-1")
	require.NoError(t, err)
	store.MarkSubmitted("nonce-1", token)

	// The advance lands on chain and rotates the stored value
	source.rotate("nonce-1", "value-b")

	next, err := store.Token(context.Background(), "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, "value-b", next.Value)
	assert.True(t, next.Durable)
}

func TestDurableTokenIndependentAccounts(t *testing.T) {
	source := newMockDurableSource()
	source.rotate("nonce-1", "value-a")
	source.rotate("nonce-2", "value-x")
	store := NewDurableTokenStore(source)

	t1, err := store.Token(context.Background(), "nonce-1")
	require.NoError(t, err)
	store.MarkSubmitted("nonce-1", t1)

	// Spending nonce-1's token never affects nonce-2
	t2, err := store.Token(context.Background(), "nonce-2")
	require.NoError(t, err)
	assert.Equal(t, "value-x", t2.Value)
}
