package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
)

// httpClient is shared by all endpoint dials and bounds the slow phases of
// an unresponsive endpoint
var httpClient = &http.Client{
	Transport: &http.Transport{
		TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
	},
}

// dial opens an ethclient over the shared HTTP transport
func dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	c, err := gethrpc.DialOptions(ctx, endpoint, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}

// RPCClient fans calls out over a chain's RPC endpoints with random-start
// round-robin failover
type RPCClient struct {
	chainID   string
	endpoints []string
}

// NewRPCClient creates a failover client over the given endpoints
func NewRPCClient(chainID string, endpoints []string) *RPCClient {
	return &RPCClient{chainID: chainID, endpoints: endpoints}
}

// withClient runs fn against the endpoints in random-start round-robin
// order, cycling the list until fn succeeds or the attempt budget runs out
func (r *RPCClient) withClient(ctx context.Context, fn func(*ethclient.Client) error) error {
	if len(r.endpoints) == 0 {
		return &chains.NetworkError{Err: fmt.Errorf("no RPC endpoints for chain %s", r.chainID)}
	}

	startIdx := rand.Intn(len(r.endpoints))
	var lastErr error

	for i := 0; i < constants.MaxRPCRetries; i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &chains.TimeoutError{Op: "rpc call", Err: ctx.Err()}
			}
		}

		endpoint := r.endpoints[(startIdx+i)%len(r.endpoints)]
		client, err := dial(ctx, endpoint)
		if err != nil {
			lastErr = &chains.NetworkError{Endpoint: endpoint, Err: err}
			continue
		}

		err = fn(client)
		client.Close()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return &chains.TimeoutError{Op: "rpc call", Err: err}
			}
			lastErr = &chains.NetworkError{Endpoint: endpoint, Err: err}
			continue
		}
		return nil
	}

	return fmt.Errorf("all RPC endpoints failed for chain %s: %w", r.chainID, lastErr)
}

// BlockNumber returns the current block height
func (r *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.withClient(ctx, func(c *ethclient.Client) error {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		height = n
		return nil
	})
	return height, err
}

// BalanceAt returns the native balance at the latest block
func (r *RPCClient) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := r.withClient(ctx, func(c *ethclient.Client) error {
		b, err := c.BalanceAt(ctx, address, nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// SendTransfer builds, signs and broadcasts a value transfer, returning the
// transaction hash
func (r *RPCClient) SendTransfer(ctx context.Context, key *ecdsa.PrivateKey, from, to common.Address, value string, data []byte) (string, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return "", &chains.SubmissionError{Err: fmt.Errorf("invalid value: %q", value)}
	}

	var hash string
	err := r.withClient(ctx, func(c *ethclient.Client) error {
		chainID, err := c.ChainID(ctx)
		if err != nil {
			return err
		}
		nonce, err := c.PendingNonceAt(ctx, from)
		if err != nil {
			return err
		}
		gasPrice, err := c.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}

		gasLimit := uint64(21000)
		if len(data) > 0 {
			gasLimit, err = c.EstimateGas(ctx, ethereum.CallMsg{
				From: from, To: &to, Value: amount, Data: data,
			})
			if err != nil {
				return err
			}
		}

		tx := ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    amount,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
		signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), key)
		if err != nil {
			return err
		}
		if err := c.SendTransaction(ctx, signed); err != nil {
			return err
		}
		hash = signed.Hash().Hex()
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// TransactionReceipt fetches the receipt for a transaction hash.
// ethereum.NotFound means the transaction is not yet included.
func (r *RPCClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := r.withClient(ctx, func(c *ethclient.Client) error {
		rcpt, err := c.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				receipt = nil
				return nil
			}
			return err
		}
		receipt = rcpt
		return nil
	})
	return receipt, err
}

// IsHealthy performs a health check on a single RPC endpoint
func IsHealthy(endpoint string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := dial(ctx, endpoint)
	if err != nil {
		return false
	}
	defer client.Close()

	_, err = client.BlockNumber(ctx)
	return err == nil
}
