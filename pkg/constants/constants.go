package constants

import "time"

const (
	DelayBetweenRPCCalls  = 200              // delay in milliseconds between RPC calls
	DefaultCallTimeout    = 10 * time.Second // timeout for adapter RPC calls
	ConnectTimeout        = 30 * time.Second // timeout for a full connect handshake
	TLSHandshakeTimeout   = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout = 20 * time.Second // timeout for response header
	MaxRPCRetries         = 10               // maximum number of retries for RPC calls
	MaxPollRetries        = 5                // transient-error budget for a single status poll
)

// Validity-window parameters for token-expiring chain families.
// The network keeps the 300 most recent validity tokens; only the 151 most
// recent are acceptable for new submissions. A token at rank R stays usable
// for (TokenAcceptanceBound - R) further queue advances.
const (
	ValidityWindowSize   = 300
	TokenAcceptanceBound = 151
	SlotCadence          = 400 * time.Millisecond // approximate queue-advance cadence
)

const (
	DefaultPollInterval           = 2 * time.Second
	DefaultBalanceRefreshInterval = 30 * time.Second
	EndpointRefreshInterval       = 6 * time.Hour
)

// Network names
const (
	NetworkEthereum     = "ethereum"
	NetworkSepolia      = "sepolia"
	NetworkBase         = "base"
	NetworkBaseSepolia  = "base-sepolia"
	NetworkPolygon      = "polygon"
	NetworkSolana       = "solana"
	NetworkSolanaDevnet = "solana-devnet"
)

// mapping from network name to numeric chain ID (EVM networks only; SVM
// networks identify chains by name)
var NetworkToChainID = map[string]int64{
	NetworkEthereum:    1,
	NetworkSepolia:     11155111,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkEthereum:     {"https://eth.llamarpc.com"},
	NetworkSepolia:      {"https://rpc.sepolia.org"},
	NetworkBase:         {"https://mainnet.base.org"},
	NetworkBaseSepolia:  {"https://sepolia.base.org"},
	NetworkPolygon:      {"https://polygon-rpc.com"},
	NetworkSolana:       {"https://api.mainnet-beta.solana.com"},
	NetworkSolanaDevnet: {"https://api.devnet.solana.com"},
}
