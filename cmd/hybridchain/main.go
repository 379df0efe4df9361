package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"hybridchain/core"
	"hybridchain/node"
	"hybridchain/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "hybridchain"}
	var env string
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment config overlay (e.g. dev, testnet)")

	rootCmd.AddCommand(serveCmd(&env))
	rootCmd.AddCommand(txCmd(&env))
	rootCmd.AddCommand(chainCmd(&env))
	rootCmd.AddCommand(peerCmd(&env))
	rootCmd.AddCommand(statusCmd(&env))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(env string) (*config.Config, error) {
	if env != "" {
		return config.Load(env)
	}
	return config.LoadFromEnv()
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func serveCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run a hybridchain node: API servicer, miner, peer I/O, liveness ticker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*env)
			if err != nil {
				return err
			}
			setupLogging(cfg)

			n, err := node.New(cfg)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logrus.Info("shutdown signal received")
				n.Stop()
			}()

			n.Run()
			return nil
		},
	}
}

func txCmd(env *string) *cobra.Command {
	cmd := &cobra.Command{Use: "tx", Short: "transaction submission"}

	submit := &cobra.Command{
		Use:   "submit",
		Short: "submit a standard transfer transaction to a freshly-loaded ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*env)
			if err != nil {
				return err
			}
			setupLogging(cfg)

			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			amount, _ := cmd.Flags().GetUint64("amount")
			fee, _ := cmd.Flags().GetUint64("fee")

			sender, err := parseAddressFlag(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			recipient, err := parseAddressFlag(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			ledger, err := node.OpenLedgerOnly(cfg)
			if err != nil {
				return err
			}

			tx := core.NewTransaction(core.Standard, sender, recipient, amount, fee, nil).Finalize()
			api := node.NewLedgerAPI(ledger)
			if err := api.SubmitTransaction(tx); err != nil {
				return err
			}
			fmt.Printf("submitted tx %s to a local ledger instance (its mempool is not persisted or gossiped)\n", tx.ID)
			return nil
		},
	}
	submit.Flags().String("from", "", "sender address (hex)")
	submit.Flags().String("to", "", "recipient address (hex)")
	submit.Flags().Uint64("amount", 0, "transfer amount")
	submit.Flags().Uint64("fee", 0, "transaction fee")
	cmd.AddCommand(submit)
	return cmd
}

func chainCmd(env *string) *cobra.Command {
	cmd := &cobra.Command{Use: "chain", Short: "chain queries"}

	head := &cobra.Command{
		Use:   "head",
		Short: "print the current chain tip",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReadOnlyNode(env, func(api node.API) error {
				b := api.Head()
				fmt.Printf("index=%d hash=%s proposer=%s txs=%d\n", b.Index, b.Hash, b.Proposer, len(b.Transactions))
				return nil
			})
		},
	}

	at := &cobra.Command{
		Use:   "at [index]",
		Short: "print the block at the given index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid index: %w", err)
			}
			return withReadOnlyNode(env, func(api node.API) error {
				b, ok := api.BlockAt(idx)
				if !ok {
					return fmt.Errorf("no block at index %d", idx)
				}
				fmt.Printf("index=%d hash=%s previous_hash=%s txs=%d\n", b.Index, b.Hash, b.PreviousHash, len(b.Transactions))
				return nil
			})
		},
	}

	balance := &cobra.Command{
		Use:   "balance [address]",
		Short: "print an address's projected balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddressFlag(args[0])
			if err != nil {
				return err
			}
			return withReadOnlyNode(env, func(api node.API) error {
				fmt.Println(api.Balance(addr))
				return nil
			})
		},
	}

	cmd.AddCommand(head, at, balance)
	return cmd
}

func peerCmd(env *string) *cobra.Command {
	cmd := &cobra.Command{Use: "peer", Short: "peer roster queries"}
	list := &cobra.Command{
		Use:   "list",
		Short: "list known peers and their liveness state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReadOnlyNode(env, func(api node.API) error {
				for _, p := range api.Peers() {
					fmt.Printf("%s\t%s\t%s\n", p.NodeID, p.State, p.LastSeen.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func statusCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print a summary of node, chain, and peer state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReadOnlyNode(env, func(api node.API) error {
				s := api.Status()
				fmt.Printf("head=%d hash=%s difficulty=%d peers=%d mempool=%d\n",
					s.HeadIndex, s.HeadHash, s.Difficulty, s.PeerCount, s.MempoolLen)
				return nil
			})
		},
	}
}

// withReadOnlyNode loads config, opens a standalone Ledger from the
// persisted snapshot (no Node, miner or peer layer is started) and runs fn
// against an API adapter over it. These subcommands do not talk to a separate running daemon —
// there is no RPC transport (§6, explicit Non-goal) — so each invocation
// inspects the locally persisted chain state directly.
func withReadOnlyNode(env *string, fn func(api node.API) error) error {
	cfg, err := loadConfig(*env)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ledger, err := node.OpenLedgerOnly(cfg)
	if err != nil {
		return err
	}

	return fn(node.NewLedgerAPI(ledger))
}

func parseAddressFlag(s string) (core.Address, error) {
	var addr core.Address
	s = trimHexPrefix(s)
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("invalid hex address %q: %w", s, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("address %q must be %d bytes, got %d", s, len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
