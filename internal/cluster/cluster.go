// Package cluster assembles a complete in-process deployment — every
// Acceptor, Proposer, and Learner bound to its own loopback HTTP port,
// plus a gateway in front of them — for cmd/demo and for the end-to-end
// scenario tests in cluster_test.go. Every role talks to every other
// role over the same internal/transport HTTP servers a real multi-host
// deployment would use; the gateway is the one exception, kept as a
// direct Go dependency here since cmd/demo drives it in-process, while
// cmd/gateway builds its own internal/transport.NewGatewayServer front
// door over the identical Gateway API.
package cluster

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/gateway"
	"github.com/quorum-kv/paxoskv/internal/node"
	"github.com/quorum-kv/paxoskv/internal/paxos"
	"github.com/quorum-kv/paxoskv/internal/rpc"
	"github.com/quorum-kv/paxoskv/internal/storage"
)

// Options sizes a cluster. Quorum defaults to a simple majority of
// Acceptors if left zero.
type Options struct {
	Acceptors         int
	Proposers         int
	Learners          int
	Quorum            int
	MaxInflight       int
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
	RPCTimeout        time.Duration
	Logger            *zap.Logger
}

// Cluster owns every role node's lifecycle for a single in-process
// deployment.
type Cluster struct {
	acceptors []*node.AcceptorNode
	proposers []*node.ProposerNode
	learners  []*node.LearnerNode
	gw        *gateway.Gateway

	acceptorAddrs []string
	learnerAddrs  []string
	proposerAddrs []string
	quorum        int
	rpcTimeout    time.Duration
	client        *rpc.Client
	log           *zap.Logger
}

// reserve binds n loopback listeners up front, returning each one's
// resolved "http://host:port" address alongside the listener itself.
// Reserving every tier's ports before constructing any paxos component
// is what lets Learner/Proposer peer lists be known at construction
// time instead of patched in afterward.
func reserve(n int) ([]net.Listener, []string, error) {
	lns := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			for _, opened := range lns[:i] {
				opened.Close()
			}
			return nil, nil, fmt.Errorf("cluster: reserve listener %d: %w", i, err)
		}
		lns[i] = ln
		addrs[i] = "http://" + ln.Addr().String()
	}
	return lns, addrs, nil
}

func without(addrs []string, i int) []string {
	out := make([]string, 0, len(addrs)-1)
	for j, a := range addrs {
		if j != i {
			out = append(out, a)
		}
	}
	return out
}

// New starts every role's HTTP server and returns once they are all
// listening (but before any leader is elected — call WaitForLeader for
// that).
func New(opts Options) (*Cluster, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Quorum == 0 {
		opts.Quorum = opts.Acceptors/2 + 1
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 50 * time.Millisecond
	}
	if opts.LeaderTimeout == 0 {
		opts.LeaderTimeout = 200 * time.Millisecond
	}
	if opts.RPCTimeout == 0 {
		opts.RPCTimeout = 500 * time.Millisecond
	}
	if opts.MaxInflight == 0 {
		opts.MaxInflight = 8
	}

	c := &Cluster{client: rpc.NewClient(opts.RPCTimeout), log: log}

	learnerLns, learnerAddrs, err := reserve(opts.Learners)
	if err != nil {
		return nil, err
	}
	acceptorLns, acceptorAddrs, err := reserve(opts.Acceptors)
	if err != nil {
		return nil, err
	}
	proposerLns, proposerAddrs, err := reserve(opts.Proposers)
	if err != nil {
		return nil, err
	}

	// Learners: each needs the rest of the Learner tier as /sync peers
	// and the full Acceptor tier to fall back on when no peer can close
	// a commit gap.
	for i := 0; i < opts.Learners; i++ {
		ln := node.NewLearnerNode(node.LearnerNodeConfig{
			ID:         fmt.Sprintf("learner-%d", i),
			Quorum:     opts.Quorum,
			Peers:      without(learnerAddrs, i),
			Acceptors:  acceptorAddrs,
			RPCTimeout: opts.RPCTimeout,
			Logger:     log.Named(fmt.Sprintf("learner-%d", i)),
		})
		if _, err := ln.StartOn(learnerLns[i], log); err != nil {
			c.Close()
			return nil, fmt.Errorf("cluster: start learner %d: %w", i, err)
		}
		c.learners = append(c.learners, ln)
	}

	// Acceptors: broadcast every accepted value to the full Learner tier.
	for i := 0; i < opts.Acceptors; i++ {
		store := storage.NewMemoryStorage()
		an := node.NewAcceptorNode(fmt.Sprintf("acceptor-%d", i), store, learnerAddrs, opts.RPCTimeout, log.Named(fmt.Sprintf("acceptor-%d", i)))
		if _, err := an.StartOn(acceptorLns[i], log); err != nil {
			c.Close()
			return nil, fmt.Errorf("cluster: start acceptor %d: %w", i, err)
		}
		c.acceptors = append(c.acceptors, an)
	}

	// Proposers: each needs the full Acceptor and Learner tiers plus the
	// rest of the Proposer tier as heartbeat/election peers.
	ctx := context.Background()
	roundStores := make([]*storage.MemoryRoundStore, opts.Proposers)
	for i := range roundStores {
		roundStores[i] = storage.NewMemoryRoundStore()
	}
	proposerIDs := make([]string, opts.Proposers)
	for i := range proposerIDs {
		proposerIDs[i] = fmt.Sprintf("proposer-%d", i)
	}
	for i := 0; i < opts.Proposers; i++ {
		pn := node.NewProposerNode(node.ProposerNodeConfig{
			ID:                proposerIDs[i],
			Acceptors:         acceptorAddrs,
			Peers:             without(proposerAddrs, i),
			PeerIDs:           without(proposerIDs, i),
			Learners:          learnerAddrs,
			Quorum:            opts.Quorum,
			MaxInflight:       opts.MaxInflight,
			HeartbeatInterval: opts.HeartbeatInterval,
			LeaderTimeout:     opts.LeaderTimeout,
			RPCTimeout:        opts.RPCTimeout,
			Rounds:            roundStores[i],
			Logger:            log.Named(fmt.Sprintf("proposer-%d", i)),
		})
		if _, err := pn.StartOn(ctx, proposerLns[i], log); err != nil {
			c.Close()
			return nil, fmt.Errorf("cluster: start proposer %d: %w", i, err)
		}
		c.proposers = append(c.proposers, pn)
	}
	c.proposerAddrs = proposerAddrs
	c.acceptorAddrs = acceptorAddrs
	c.learnerAddrs = learnerAddrs
	c.quorum = opts.Quorum
	c.rpcTimeout = opts.RPCTimeout

	c.gw = gateway.New(gateway.Config{
		ID:         "gateway-0",
		Proposers:  proposerAddrs,
		Learners:   learnerAddrs,
		RPCTimeout: opts.RPCTimeout,
		Logger:     log.Named("gateway"),
	})

	return c, nil
}

// Gateway returns the cluster's client gateway.
func (c *Cluster) Gateway() *gateway.Gateway { return c.gw }

// ProposerAddrs returns every Proposer's loopback base URL.
func (c *Cluster) ProposerAddrs() []string { return c.proposerAddrs }

// AcceptorAddrs returns every Acceptor's loopback base URL.
func (c *Cluster) AcceptorAddrs() []string { return c.acceptorAddrs }

// LearnerAddrs returns every Learner's loopback base URL.
func (c *Cluster) LearnerAddrs() []string { return c.learnerAddrs }

// StopAcceptor shuts down acceptor i's HTTP server, simulating the node
// becoming unreachable without removing it from any peer's address list.
func (c *Cluster) StopAcceptor(i int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.acceptors[i].Stop(ctx)
}

// StopProposer shuts down proposer i's HTTP server. A leader stopped
// this way looks, from every peer's perspective, exactly like a
// partition: it simply stops answering heartbeats and RPCs.
func (c *Cluster) StopProposer(i int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.proposers[i].Stop(ctx)
}

// StopLearner shuts down learner i's HTTP server and its catch-up loop.
func (c *Cluster) StopLearner(i int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.learners[i].Stop(ctx)
}

// RestartLearner rebuilds learner i from empty state and rebinds it to
// the same loopback address it held before StopLearner, so every peer's
// address list stays valid across the restart.
func (c *Cluster) RestartLearner(i int) error {
	host := strings.TrimPrefix(c.learnerAddrs[i], "http://")
	ln, err := net.Listen("tcp", host)
	if err != nil {
		return fmt.Errorf("cluster: relisten learner %d: %w", i, err)
	}
	ln2 := node.NewLearnerNode(node.LearnerNodeConfig{
		ID:         fmt.Sprintf("learner-%d", i),
		Quorum:     c.quorum,
		Peers:      without(c.learnerAddrs, i),
		Acceptors:  c.acceptorAddrs,
		RPCTimeout: c.rpcTimeout,
		Logger:     c.log.Named(fmt.Sprintf("learner-%d", i)),
	})
	if _, err := ln2.StartOn(ln, c.log); err != nil {
		return fmt.Errorf("cluster: restart learner %d: %w", i, err)
	}
	c.learners[i] = ln2
	return nil
}

// LearnerStatus reports learner i's committedUpTo over HTTP, the same
// way any external client would observe it.
func (c *Cluster) LearnerStatus(ctx context.Context, i int) (paxos.LearnerStatusInfo, error) {
	return c.client.Status(ctx, c.learnerAddrs[i])
}

// WaitForLeader blocks until some Proposer reports itself as leader.
func (c *Cluster) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, addr := range c.proposerAddrs {
			st, err := c.client.ProposerStatus(ctx, addr)
			if err == nil && st.Role == "leader" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cluster: no leader elected before %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close shuts down every role's HTTP server.
func (c *Cluster) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, p := range c.proposers {
		_ = p.Stop(ctx)
	}
	for _, a := range c.acceptors {
		_ = a.Stop(ctx)
	}
	for _, l := range c.learners {
		_ = l.Stop(ctx)
	}
}
