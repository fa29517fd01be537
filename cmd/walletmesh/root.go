package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/chains/evm"
	"github.com/walletmesh/walletmesh/pkg/chains/svm"
	"github.com/walletmesh/walletmesh/pkg/config"
	"github.com/walletmesh/walletmesh/pkg/session"
)

var (
	configPath string
	chainID    string
	keyEnv     string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "walletmesh",
		Short:        "Multi-chain wallet connection and transaction tracking",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "walletmesh.yaml", "configuration file")
	root.PersistentFlags().StringVar(&chainID, "chain", "", "chain id to operate on")
	root.PersistentFlags().StringVar(&keyEnv, "key-env", "WALLETMESH_PRIVATE_KEY", "environment variable holding the connector private key")

	root.AddCommand(newConnectCmd(), newBalanceCmd(), newSendCmd(), newStatusCmd())
	return root
}

// setup loads configuration, registers adapters and connectors, and opens
// the store
func setup() (*session.Store, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	registry := chains.NewRegistry()
	for family, fc := range cfg.Families {
		registry.RegisterChains(fc.Chains...)

		switch family {
		case chains.FamilyEVM:
			adapter, err := evm.NewAdapter(logger, fc.Chains...)
			if err != nil {
				return nil, nil, err
			}
			if err := registry.RegisterAdapter(adapter); err != nil {
				return nil, nil, err
			}
		case chains.FamilySVM:
			adapter, err := svm.NewAdapter(logger, fc.Chains...)
			if err != nil {
				return nil, nil, err
			}
			if err := registry.RegisterAdapter(adapter); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fmt.Errorf("unknown chain family in config: %s", family)
		}
	}

	store := session.NewStore(registry, logger,
		session.WithStateFile(cfg.StateFile),
		session.WithBalanceRefreshInterval(cfg.BalanceRefreshInterval.Std()),
	)
	if err := store.Open(); err != nil {
		return nil, nil, err
	}

	if err := registerConnectors(store, cfg); err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// registerConnectors creates key connectors for every configured connector
// id, reading the key from the configured environment variable
func registerConnectors(store *session.Store, cfg *config.Config) error {
	keyHex := os.Getenv(keyEnv)
	for family, fc := range cfg.Families {
		for _, id := range fc.Connectors {
			if keyHex == "" {
				continue
			}
			switch family {
			case chains.FamilyEVM:
				c, err := evm.NewKeyConnector(id, keyHex)
				if err != nil {
					return fmt.Errorf("connector %s: %w", id, err)
				}
				store.RegisterConnector(c)
			case chains.FamilySVM:
				c, err := svm.NewKeyConnector(id, keyHex)
				if err != nil {
					return fmt.Errorf("connector %s: %w", id, err)
				}
				store.RegisterConnector(c)
			}
		}
	}
	return nil
}

func connectSession(ctx context.Context, store *session.Store, connectorID string) (*session.WalletSession, error) {
	if chainID != "" {
		if err := store.UseChain(chainID); err != nil {
			return nil, err
		}
	}
	return store.Connect(ctx, connectorID)
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <connector-id>",
		Short: "Connect a wallet and print the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout.Std())
			defer cancel()

			sess, err := connectSession(ctx, store, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("connected: %s on %s\n", sess.Address, sess.ChainID)
			return nil
		},
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <connector-id>",
		Short: "Connect and print the wallet balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout.Std())
			defer cancel()

			if _, err := connectSession(ctx, store, args[0]); err != nil {
				return err
			}
			balance, err := store.GetBalance(ctx)
			if err != nil {
				return err
			}
			fmt.Println(balance)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection state and the rehydrated chain selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("state: %s\n", store.State())
			if err := store.LastError(); err != nil {
				fmt.Printf("last error: %v\n", err)
			}
			if sess := store.Session(); sess != nil {
				fmt.Printf("chain: %s address: %s balance: %s\n", sess.ChainID, sess.Address, sess.Balance)
			}
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var (
		commitment string
		wait       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <connector-id> <to> <value>",
		Short: "Send a native transfer and wait for its terminal status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout.Std())
			defer cancel()

			if _, err := connectSession(ctx, store, args[0]); err != nil {
				return err
			}

			ptx, err := store.SubmitTransaction(ctx, chains.TransactionRequest{
				To:    args[1],
				Value: args[2],
			}, chains.Commitment(commitment))
			if err != nil {
				return err
			}
			fmt.Printf("submitted: %s\n", ptx.ID)

			waitCtx, waitCancel := context.WithTimeout(cmd.Context(), wait)
			defer waitCancel()
			status, err := ptx.Wait(waitCtx)
			if err != nil {
				return err
			}
			fmt.Printf("status: %s\n", status)
			return nil
		},
	}
	cmd.Flags().StringVar(&commitment, "commitment", string(chains.CommitmentConfirmed), "commitment level (processed|confirmed|finalized)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for a terminal status")
	return cmd
}
