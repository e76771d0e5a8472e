// Command demo runs a complete cluster — Acceptors, Proposers, Learners,
// and a gateway — in one process, each bound to its own loopback HTTP
// port, and drives a short scripted workload against it. It exercises
// the exact same wire path a real multi-process deployment would: every
// role talks to every other role over the HTTP servers in
// internal/transport, never through a direct Go function call.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/cluster"
	"github.com/quorum-kv/paxoskv/internal/paxos"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	c, err := cluster.New(cluster.Options{
		Acceptors: 5,
		Proposers: 3,
		Learners:  2,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("start cluster: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.WaitForLeader(ctx); err != nil {
		return fmt.Errorf("wait for leader: %w", err)
	}
	log.Info("demo: leader elected")

	writes := []struct{ key, value string }{
		{"account/1", "100"},
		{"account/2", "250"},
		{"account/1", "90"},
	}
	for _, w := range writes {
		slot, err := c.Gateway().Write(ctx, w.key, []byte(w.value), "demo-client")
		if err != nil {
			return fmt.Errorf("write %s: %w", w.key, err)
		}
		log.Info("demo: wrote", zap.String("key", w.key), zap.String("value", w.value), zap.Int64("slot", slot))
	}

	value, slot, err := c.Gateway().Read(ctx, "account/1", "demo-client", paxos.ConsistencyStrong)
	if err != nil {
		return fmt.Errorf("strong read: %w", err)
	}
	log.Info("demo: strong read", zap.String("value", string(value)), zap.Int64("slot", slot))

	return nil
}
