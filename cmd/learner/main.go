// Command learner runs a single Learner role, tallying AcceptNotification
// broadcasts from ACCEPTOR_HOSTS and catching up against LEARNER_HOSTS
// peers when it falls behind.
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
)

func main() {
	var port int

	cmd := &cobra.Command{
		Use:   "learner",
		Short: "Run a Paxos Learner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides LEARNER_PORT)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "learner:", err)
		os.Exit(1)
	}
}

func run(portFlag int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.LearnerPort = portFlag
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	n := node.NewLearnerNode(node.LearnerNodeConfig{
		ID:         cfg.LearnerID,
		Quorum:     cfg.QuorumSize,
		Peers:      cfg.LearnerHosts(),
		Acceptors:  cfg.AcceptorHosts(),
		RPCTimeout: cfg.RPCTimeout,
		Logger:     log.Named("learner"),
	})
	addr, err := n.Start(fmt.Sprintf(":%d", cfg.LearnerPort), log)
	if err != nil {
		return fmt.Errorf("start learner: %w", err)
	}
	log.Info("learner: listening", zap.String("id", cfg.LearnerID), zap.String("addr", addr))

	waitForShutdown(log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.Stop(ctx)
}

func waitForShutdown(log *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	sig := <-ch
	log.Info("learner: shutting down", zap.String("signal", sig.String()))
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
