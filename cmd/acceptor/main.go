// Command acceptor runs a single Acceptor role bound to its own HTTP
// port, durable to DATA_DIR, for a multi-process deployment.
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
		Use:   "acceptor",
		Short: "Run a Paxos Acceptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, dataDir)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides ACCEPTOR_PORT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "journal directory (overrides DATA_DIR)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "acceptor:", err)
		os.Exit(1)
	}
}

func run(portFlag int, dataDirFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if portFlag != 0 {
		cfg.AcceptorPort = portFlag
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	n := node.NewAcceptorNode(cfg.AcceptorID, store, cfg.LearnerHosts(), cfg.RPCTimeout, log.Named("acceptor"))
	addr, err := n.Start(fmt.Sprintf(":%d", cfg.AcceptorPort), log)
	if err != nil {
		return fmt.Errorf("start acceptor: %w", err)
	}
	log.Info("acceptor: listening", zap.String("id", cfg.AcceptorID), zap.String("addr", addr))

	waitForShutdown(log)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return n.Stop(stopCtx)
}

func waitForShutdown(log *zap.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	sig := <-ch
	log.Info("acceptor: shutting down", zap.String("signal", sig.String()))
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
