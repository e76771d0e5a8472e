// Command proposer runs a single Proposer role, competing for
// leadership over PROPOSER_HOSTS and binding client commands to slots
// on ACCEPTOR_HOSTS once it wins.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quorum-kv/paxoskv/internal/config"
	"github.com/quorum-kv/paxoskv/internal/node"
	"github.com/quorum-kv/paxoskv/internal/storage"
)

func main() {
	var port int
	var dataDir string

	cmd := &cobra.Command{
		Use:   "proposer",
		Short: "Run a Paxos Proposer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, dataDir)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides PROPOSER_PORT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "round-store directory (overrides DATA_DIR)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "proposer:", err)
		os.Exit(1)
	}
}

func run(portFlag int, dataDirFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.ProposerPort = portFlag
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	rounds, err := storage.OpenRoundStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open round store: %w", err)
	}

	n := node.NewProposerNode(node.ProposerNodeConfig{
		ID:                cfg.ProposerID,
		Acceptors:         cfg.AcceptorHosts(),
		Peers:             cfg.ProposerHosts(),
		PeerIDs:           cfg.ProposerPeerIDs(),
		Learners:          cfg.LearnerHosts(),
		Quorum:            cfg.QuorumSize,
		MaxInflight:       cfg.MaxInflight,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LeaderTimeout:     cfg.LeaderTimeout,
		RPCTimeout:        cfg.RPCTimeout,
		Rounds:            rounds,
		Logger:            log.Named("proposer"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := n.Start(ctx, fmt.Sprintf(":%d", cfg.ProposerPort), log)
	if err != nil {
		return fmt.Errorf("start proposer: %w", err)
	}
	log.Info("proposer: listening", zap.String("id", cfg.ProposerID), zap.String("addr", addr))

	waitForShutdown(log)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	return n.Stop(stopCtx)
}

func waitForShutdown(log *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	sig := <-ch
	log.Info("proposer: shutting down", zap.String("signal", sig.String()))
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
