package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// mockAdapter implements the chain adapter contract and the tracker's
// token-source capability over in-memory state
type mockAdapter struct {
	family    chains.Family
	supported map[string]bool

	mu             sync.Mutex
	connectErr     error
	address        string
	balance        string
	height         uint64
	lastValid      uint64
	statuses       map[string]chains.TxStatus
	submits        int
	connects       int
	teardowns      int
	blockConnect   chan struct{}
	connectStarted chan struct{}
}

func newMockAdapter(family chains.Family, chainIDs ...string) *mockAdapter {
	supported := make(map[string]bool)
	for _, id := range chainIDs {
		supported[id] = true
	}
	return &mockAdapter{
		family:    family,
		supported: supported,
		address:   "0xmock",
		balance:   "0",
		height:    1000,
		lastValid: 1150,
		statuses:  make(map[string]chains.TxStatus),
	}
}

func (m *mockAdapter) Family() chains.Family { return m.family }

func (m *mockAdapter) Connect(ctx context.Context, connector chains.Connector) (*chains.Account, error) {
	m.mu.Lock()
	m.connects++
	connectErr := m.connectErr
	address := m.address
	block := m.blockConnect
	started := m.connectStarted
	m.connectStarted = nil
	m.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}
	return &chains.Account{Address: address}, nil
}

func (m *mockAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns++
	return nil
}

func (m *mockAdapter) SwitchChain(ctx context.Context, chainID string) error {
	if !m.supported[chainID] {
		return &chains.UnsupportedChainError{ChainID: chainID, Family: m.family}
	}
	return nil
}

func (m *mockAdapter) GetBalance(ctx context.Context, address string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *mockAdapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return []byte("signed"), nil
}

func (m *mockAdapter) SubmitTransaction(ctx context.Context, tx *chains.TransactionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	return "tx-1", nil
}

func (m *mockAdapter) IsChainSupported(chainID string) bool { return m.supported[chainID] }

func (m *mockAdapter) LatestToken(ctx context.Context, commitment chains.Commitment) (chains.ValidityToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return chains.ValidityToken{
		Value:           "token",
		FetchedAtHeight: m.height,
		LastValidHeight: m.lastValid,
		Commitment:      commitment,
	}, nil
}

func (m *mockAdapter) IsTokenValid(ctx context.Context, token chains.ValidityToken) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height <= token.LastValidHeight, nil
}

func (m *mockAdapter) CurrentHeight(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, nil
}

func (m *mockAdapter) StatusOf(ctx context.Context, id string, commitment chains.Commitment) (chains.TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.statuses[id]; ok {
		return status, nil
	}
	return chains.TxSubmitted, nil
}

func (m *mockAdapter) setStatus(id string, status chains.TxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
}

type mockConnector struct{ id string }

func (c *mockConnector) ID() string { return c.id }

func (c *mockConnector) PrivateKey() (interface{}, error) { return nil, nil }

func testChain(id string, family chains.Family, decimals int) chains.Chain {
	return chains.Chain{
		ID:     id,
		Name:   id,
		Family: family,
		NativeCurrency: chains.NativeCurrency{
			Symbol:   "TST",
			Decimals: decimals,
		},
		RPCEndpoints: []string{"http://localhost:1"},
	}
}

func newTestStore(t *testing.T, adapter *mockAdapter, descriptors ...chains.Chain) *Store {
	t.Helper()

	registry := chains.NewRegistry()
	registry.RegisterChains(descriptors...)
	require.NoError(t, registry.RegisterAdapter(adapter))

	store := NewStore(registry, nil, WithBalanceRefreshInterval(0))
	t.Cleanup(store.Close)

	store.RegisterConnector(&mockConnector{id: "test-key"})
	return store
}

func TestStoreConnect(t *testing.T) {
	adapter := newMockAdapter(chains.FamilySVM, "solana")
	store := newTestStore(t, adapter, testChain("solana", chains.FamilySVM, 9))

	require.NoError(t, store.UseChain("solana"))
	sess, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	assert.Equal(t, StateConnected, store.State())
	assert.Equal(t, "0xmock", sess.Address)
	assert.Equal(t, "solana", sess.ChainID)
	assert.NotEmpty(t, store.Session().Address)
}

func TestStoreConnectUnknownConnector(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))
	require.NoError(t, store.UseChain("1"))

	_, err := store.Connect(context.Background(), "nope")
	require.Error(t, err)

	var connErr *chains.ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.Equal(t, StateDisconnected, store.State(), "a rejected connect never starts the machine")
}

func TestStoreConnectRequiresChainSelection(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	_, err := store.Connect(context.Background(), "test-key")
	assert.Error(t, err)
}

func TestStoreConnectFailureRetainsError(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	adapter.connectErr = errors.New("wallet unreachable")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))
	require.NoError(t, store.UseChain("1"))

	_, err := store.Connect(context.Background(), "test-key")
	require.Error(t, err)
	assert.Equal(t, StateError, store.State())
	assert.ErrorIs(t, store.LastError(), adapter.connectErr)
	assert.Nil(t, store.Session())
}

func TestStoreDisconnectIdempotent(t *testing.T) {
	adapter := newMockAdapter(chains.FamilySVM, "solana")
	store := newTestStore(t, adapter, testChain("solana", chains.FamilySVM, 9))

	require.NoError(t, store.UseChain("solana"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	require.NoError(t, store.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, store.State())
	assert.Nil(t, store.Session())

	require.NoError(t, store.Disconnect(context.Background()))
	assert.Equal(t, StateDisconnected, store.State())
}

func TestStoreSwitchChain(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1", "8453")
	store := newTestStore(t, adapter,
		testChain("1", chains.FamilyEVM, 18),
		testChain("8453", chains.FamilyEVM, 18),
	)

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	require.NoError(t, store.SwitchChain(context.Background(), "8453"))
	assert.Equal(t, StateConnected, store.State())
	assert.Equal(t, "8453", store.Session().ChainID)
}

func TestStoreSwitchToUnsupportedChainKeepsSession(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter,
		testChain("1", chains.FamilyEVM, 18),
		testChain("999", chains.FamilyEVM, 18), // registered but not served
	)

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	err = store.SwitchChain(context.Background(), "999")
	require.Error(t, err)

	var unsupported *chains.UnsupportedChainError
	assert.ErrorAs(t, err, &unsupported)

	// The prior session survives untouched
	assert.Equal(t, StateConnected, store.State())
	assert.Equal(t, "1", store.Session().ChainID)
}

func TestStoreSwitchToUnknownChain(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	err = store.SwitchChain(context.Background(), "no-such-chain")
	require.Error(t, err)
	assert.Equal(t, StateConnected, store.State())
}

func TestStorePersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	adapter := newMockAdapter(chains.FamilySVM, "solana")
	registry := chains.NewRegistry()
	registry.RegisterChains(testChain("solana", chains.FamilySVM, 9))
	require.NoError(t, registry.RegisterAdapter(adapter))

	first := NewStore(registry, nil, WithStateFile(path), WithBalanceRefreshInterval(0))
	first.RegisterConnector(&mockConnector{id: "test-key"})
	require.NoError(t, first.Open())
	require.NoError(t, first.UseChain("solana"))
	_, err := first.Connect(context.Background(), "test-key")
	require.NoError(t, err)
	first.Close()

	// A new store rehydrates the chain selection but not the session
	second := NewStore(registry, nil, WithStateFile(path), WithBalanceRefreshInterval(0))
	defer second.Close()
	second.RegisterConnector(&mockConnector{id: "test-key"})
	require.NoError(t, second.Open())

	assert.Equal(t, StateDisconnected, second.State())
	assert.Nil(t, second.Session())

	// Connecting needs no chain selection: it was rehydrated
	sess, err := second.Connect(context.Background(), "test-key")
	require.NoError(t, err)
	assert.Equal(t, "solana", sess.ChainID)
}

func TestStoreDisconnectClearsPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	adapter := newMockAdapter(chains.FamilyEVM, "1")
	registry := chains.NewRegistry()
	registry.RegisterChains(testChain("1", chains.FamilyEVM, 18))
	require.NoError(t, registry.RegisterAdapter(adapter))

	store := NewStore(registry, nil, WithStateFile(path), WithBalanceRefreshInterval(0))
	defer store.Close()
	store.RegisterConnector(&mockConnector{id: "test-key"})

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)
	require.NoError(t, store.Disconnect(context.Background()))

	loaded, err := NewStateFile(path).Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "disconnect removes the reconnection record")
}

func TestStoreGetBalanceFormatsDisplayUnits(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	adapter.balance = "1500000000000000000"
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	balance, err := store.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance)
	assert.Equal(t, "1.5", store.Session().Balance)
}

func TestStoreSubmitAndTrackTransaction(t *testing.T) {
	adapter := newMockAdapter(chains.FamilySVM, "solana")
	adapter.setStatus("tx-1", chains.TxConfirmed)
	store := newTestStore(t, adapter, testChain("solana", chains.FamilySVM, 9))

	require.NoError(t, store.UseChain("solana"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	ptx, err := store.SubmitTransaction(context.Background(), chains.TransactionRequest{
		To:    "recipient",
		Value: "1",
	}, chains.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", ptx.ID)
	assert.Equal(t, uint64(1150), ptx.Token.LastValidHeight)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := ptx.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, chains.TxConfirmed, status)

	stored, ok := store.Transaction("tx-1")
	require.True(t, ok)
	assert.Equal(t, chains.TxConfirmed, stored.Status())
}

func TestStoreSubmitRequiresSession(t *testing.T) {
	adapter := newMockAdapter(chains.FamilySVM, "solana")
	store := newTestStore(t, adapter, testChain("solana", chains.FamilySVM, 9))

	_, err := store.SubmitTransaction(context.Background(), chains.TransactionRequest{
		To:    "recipient",
		Value: "1",
	}, chains.CommitmentConfirmed)
	require.Error(t, err)

	var submission *chains.SubmissionError
	assert.ErrorAs(t, err, &submission)
}

func TestStoreSubscribe(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	id, snapshots := store.Subscribe()
	defer store.Unsubscribe(id)

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	// The connect publishes at least a Connecting and a Connected snapshot
	var states []State
	deadline := time.After(5 * time.Second)
	for len(states) < 2 {
		select {
		case snap := <-snapshots:
			states = append(states, snap.State)
		case <-deadline:
			t.Fatalf("snapshots not delivered, got %v", states)
		}
	}
	assert.Contains(t, states, StateConnecting)
	assert.Contains(t, states, StateConnected)
}

func TestStoreUnsubscribeClosesChannel(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	id, snapshots := store.Subscribe()
	store.Unsubscribe(id)

	_, open := <-snapshots
	assert.False(t, open)
}

func TestStoreGetBalanceRequiresSession(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	_, err := store.GetBalance(context.Background())
	require.Error(t, err)

	var connErr *chains.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestStoreUseChainWhileConnected(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1", "8453")
	store := newTestStore(t, adapter,
		testChain("1", chains.FamilyEVM, 18),
		testChain("8453", chains.FamilyEVM, 18),
	)

	require.NoError(t, store.UseChain("1"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	err = store.UseChain("8453")
	require.Error(t, err)

	var concurrent *chains.ConcurrentOperationError
	assert.ErrorAs(t, err, &concurrent)
}

func TestStoreCloseCancelsInFlightConnect(t *testing.T) {
	adapter := newMockAdapter(chains.FamilySVM, "solana")
	adapter.blockConnect = make(chan struct{})
	adapter.connectStarted = make(chan struct{})
	started := adapter.connectStarted
	store := newTestStore(t, adapter, testChain("solana", chains.FamilySVM, 9))

	require.NoError(t, store.UseChain("solana"))

	errCh := make(chan error, 1)
	go func() {
		_, err := store.Connect(context.Background(), "test-key")
		errCh <- err
	}()
	<-started

	store.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not observe the close")
	}

	assert.Equal(t, StateDisconnected, store.State())
	assert.Nil(t, store.Session())

	// A closed store refuses new connects
	_, err := store.Connect(context.Background(), "test-key")
	var connErr *chains.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestStorePublishDuringUnsubscribe(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				store.publish()
			}
		}
	}()

	// Subscribers come and go while snapshots are being published; a send
	// must never hit a closed channel
	for i := 0; i < 500; i++ {
		id, ch := store.Subscribe()
		store.Unsubscribe(id)
		for range ch {
		}
	}

	close(done)
	wg.Wait()
}

func TestStoreSessionLost(t *testing.T) {
	adapter := newMockAdapter(chains.FamilySVM, "solana")
	store := newTestStore(t, adapter, testChain("solana", chains.FamilySVM, 9))

	require.NoError(t, store.UseChain("solana"))
	_, err := store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	store.SessionLost()
	assert.Equal(t, StateDisconnected, store.State())
	assert.Nil(t, store.Session())
}

func TestStoreSignMessage(t *testing.T) {
	adapter := newMockAdapter(chains.FamilyEVM, "1")
	store := newTestStore(t, adapter, testChain("1", chains.FamilyEVM, 18))

	// Signing requires a session
	_, err := store.SignMessage(context.Background(), []byte("hello"))
	require.Error(t, err)

	require.NoError(t, store.UseChain("1"))
	_, err = store.Connect(context.Background(), "test-key")
	require.NoError(t, err)

	sig, err := store.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("signed"), sig)
}
