package evm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// EndpointProvider orders a chain's configured RPC endpoints by observed
// health so failover tries reliable endpoints first. The configured order
// is the tiebreaker: the primary stays first among healthy endpoints.
type EndpointProvider struct {
	logger *slog.Logger

	mu        sync.RWMutex
	endpoints map[string][]string // chain id -> prioritized endpoints
}

// NewEndpointProvider creates a provider seeded with each chain's
// configured endpoint order
func NewEndpointProvider(logger *slog.Logger, descriptors ...chains.Chain) *EndpointProvider {
	if logger == nil {
		logger = slog.Default()
	}
	endpoints := make(map[string][]string, len(descriptors))
	for _, d := range descriptors {
		endpoints[d.ID] = append([]string(nil), d.RPCEndpoints...)
	}
	return &EndpointProvider{logger: logger, endpoints: endpoints}
}

// Endpoints returns the current prioritized endpoint list for a chain
func (p *EndpointProvider) Endpoints(chainID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.endpoints[chainID]...)
}

// Refresh health-checks every endpoint and reorders healthy ones first,
// keeping unhealthy ones as backup
func (p *EndpointProvider) Refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for chainID, endpoints := range p.endpoints {
		if len(endpoints) < 2 {
			continue
		}

		var healthy, unhealthy []string
		for _, endpoint := range endpoints {
			if IsHealthy(endpoint) {
				healthy = append(healthy, endpoint)
			} else {
				unhealthy = append(unhealthy, endpoint)
			}
		}

		p.endpoints[chainID] = append(healthy, unhealthy...)
		p.logger.Debug("endpoint health check complete",
			"chain", chainID, "healthy", len(healthy), "unhealthy", len(unhealthy))
	}
}

// StartBackgroundRefresh refreshes endpoint ordering periodically until
// stop is closed
func (p *EndpointProvider) StartBackgroundRefresh(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(constants.EndpointRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.Refresh()
			case <-stop:
				return
			}
		}
	}()
}
