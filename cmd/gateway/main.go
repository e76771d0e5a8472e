// Command gateway runs the client-facing front door: it hides leader
// discovery behind PROPOSER_HOSTS and serves reads from LEARNER_HOSTS
// at whatever consistency level the caller asks for.
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
	"github.com/quorum-kv/paxoskv/internal/gateway"
	"github.com/quorum-kv/paxoskv/internal/node"
)

func main() {
	var port int

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the paxoskv client gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides GATEWAY_PORT)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run(portFlag int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.GatewayPort = portFlag
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	n := node.NewGatewayNode(gateway.Config{
		ID:         cfg.GatewayID,
		Proposers:  cfg.ProposerHosts(),
		Learners:   cfg.LearnerHosts(),
		RPCTimeout: cfg.RPCTimeout,
		Logger:     log.Named("gateway"),
	})
	addr, err := n.Start(fmt.Sprintf(":%d", cfg.GatewayPort), log)
	if err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	log.Info("gateway: listening", zap.String("id", cfg.GatewayID), zap.String("addr", addr))

	waitForShutdown(log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.Stop(ctx)
}

func waitForShutdown(log *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	sig := <-ch
	log.Info("gateway: shutting down", zap.String("signal", sig.String()))
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
