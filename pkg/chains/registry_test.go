package chains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChainAdapter is a simple test adapter
type mockChainAdapter struct {
	family Family
	chains map[string]bool
}

func (m *mockChainAdapter) Family() Family { return m.family }

func (m *mockChainAdapter) Connect(ctx context.Context, connector Connector) (*Account, error) {
	return &Account{Address: "0xtest"}, nil
}

func (m *mockChainAdapter) Disconnect(ctx context.Context) error { return nil }

func (m *mockChainAdapter) SwitchChain(ctx context.Context, chainID string) error {
	if !m.chains[chainID] {
		return &UnsupportedChainError{ChainID: chainID, Family: m.family}
	}
	return nil
}

func (m *mockChainAdapter) GetBalance(ctx context.Context, address string) (string, error) {
	return "0", nil
}

func (m *mockChainAdapter) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return nil, nil
}

func (m *mockChainAdapter) SubmitTransaction(ctx context.Context, tx *TransactionRequest) (string, error) {
	return "", nil
}

func (m *mockChainAdapter) IsChainSupported(chainID string) bool { return m.chains[chainID] }

func TestRegistryIdempotent(t *testing.T) {
	registry := NewRegistry()

	adapter1 := &mockChainAdapter{family: FamilyEVM}
	adapter2 := &mockChainAdapter{family: FamilyEVM}

	// First registration should succeed
	err := registry.RegisterAdapter(adapter1)
	assert.NoError(t, err, "First registration should succeed")

	// Second registration with same family should also succeed (idempotent)
	err = registry.RegisterAdapter(adapter2)
	assert.NoError(t, err, "Second registration should succeed (idempotent)")

	// Verify the second adapter replaced the first
	retrieved, err := registry.AdapterFor(FamilyEVM)
	assert.NoError(t, err)
	assert.Equal(t, adapter2, retrieved, "Second adapter should have replaced the first")
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			adapter := &mockChainAdapter{family: FamilySVM}
			err := registry.RegisterAdapter(adapter)
			assert.NoError(t, err, "Concurrent registration should not fail")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, registry.IsSupported(FamilySVM))
}

func TestRegistryMultipleFamilies(t *testing.T) {
	registry := NewRegistry()

	families := []Family{FamilyEVM, FamilySVM}
	for _, family := range families {
		err := registry.RegisterAdapter(&mockChainAdapter{family: family})
		assert.NoError(t, err)
	}

	supported := registry.SupportedFamilies()
	assert.Len(t, supported, len(families))

	for _, family := range families {
		assert.True(t, registry.IsSupported(family))
	}
	assert.False(t, registry.IsSupported(Family("utxo")))
}

func TestRegistryUnknownFamily(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.AdapterFor(FamilyEVM)
	assert.Error(t, err)
}

func TestRegistryChainCatalog(t *testing.T) {
	registry := NewRegistry()

	registry.RegisterChains(
		Chain{ID: "1", Name: "Ethereum", Family: FamilyEVM},
		Chain{ID: "8453", Name: "Base", Family: FamilyEVM},
		Chain{ID: "solana", Name: "Solana", Family: FamilySVM},
	)

	c, err := registry.Chain("8453")
	require.NoError(t, err)
	assert.Equal(t, "Base", c.Name)

	evmChains := registry.ChainsOf(FamilyEVM)
	assert.Len(t, evmChains, 2)

	svmChains := registry.ChainsOf(FamilySVM)
	assert.Len(t, svmChains, 1)
}

func TestRegistryUnknownChainError(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Chain("dogecoin")
	require.Error(t, err)

	var unsupported *UnsupportedChainError
	assert.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "dogecoin", unsupported.ChainID)
}

func TestRegistryReplaceChainDescriptor(t *testing.T) {
	registry := NewRegistry()

	registry.RegisterChains(Chain{ID: "1", Name: "Ethereum", Family: FamilyEVM})
	registry.RegisterChains(Chain{ID: "1", Name: "Ethereum Mainnet", Family: FamilyEVM})

	c, err := registry.Chain("1")
	require.NoError(t, err)
	assert.Equal(t, "Ethereum Mainnet", c.Name)
}

func TestRegistryUnregisterAdapter(t *testing.T) {
	registry := NewRegistry()

	err := registry.RegisterAdapter(&mockChainAdapter{family: FamilyEVM})
	assert.NoError(t, err)
	assert.True(t, registry.IsSupported(FamilyEVM))

	registry.Unregister(FamilyEVM)
	assert.False(t, registry.IsSupported(FamilyEVM))
}
