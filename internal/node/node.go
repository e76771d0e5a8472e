// Package node assembles one role's paxos primitive with its storage,
// RPC clients, and HTTP server into a runnable unit with Start/Stop —
// the same lifecycle shape the teacher's combined Node type used, split
// one per role instead of multiplexing all three over one message loop,
// since each role now has its own HTTP listener rather than sharing an
// in-memory transport's Receive loop.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/gateway"
	"github.com/quorum-kv/paxoskv/internal/paxos"
	"github.com/quorum-kv/paxoskv/internal/rpc"
	"github.com/quorum-kv/paxoskv/internal/storage"
	"github.com/quorum-kv/paxoskv/internal/transport"
)

// httpRunner is the Start/Stop lifecycle every role server shares.
type httpRunner struct {
	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

func (h *httpRunner) start(addr string, handler http.Handler) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("node: listen %s: %w", addr, err)
	}
	return h.startOn(ln, handler)
}

// startOn serves handler on an already-bound listener, letting a caller
// reserve a cluster's ports up front — before any peer address lists
// need to be known — and attach the real handler afterward.
func (h *httpRunner) startOn(ln net.Listener, handler http.Handler) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ln = ln
	h.server = &http.Server{Handler: handler}
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The caller observes failures via health checks; there's no
			// listener left to log to once Serve has returned.
			_ = err
		}
	}()
	return ln.Addr().String(), nil
}

func (h *httpRunner) stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// AcceptorNode wires an Acceptor to durable storage and an HTTP server.
type AcceptorNode struct {
	httpRunner
	Acceptor *paxos.Acceptor
	store    storage.Storage
}

// NewAcceptorNode builds an Acceptor backed by store and broadcasting
// accepted values to learnerAddrs over HTTP.
func NewAcceptorNode(id string, store storage.Storage, learnerAddrs []string, rpcTimeout time.Duration, log *zap.Logger) *AcceptorNode {
	client := rpc.NewClient(rpcTimeout)
	bcast := transport.NewRemoteBroadcaster(client, learnerAddrs, rpcTimeout, log)
	acceptor := paxos.NewAcceptor(id, store, bcast, log)
	return &AcceptorNode{Acceptor: acceptor, store: store}
}

// Start binds the Acceptor's HTTP server to addr and returns the
// resolved listen address (useful when addr's port is 0).
func (n *AcceptorNode) Start(addr string, log *zap.Logger) (string, error) {
	return n.httpRunner.start(addr, transport.NewAcceptorServer(n.Acceptor, log))
}

// StartOn serves the Acceptor on an already-bound listener.
func (n *AcceptorNode) StartOn(ln net.Listener, log *zap.Logger) (string, error) {
	return n.httpRunner.startOn(ln, transport.NewAcceptorServer(n.Acceptor, log))
}

func (n *AcceptorNode) Stop(ctx context.Context) error {
	if err := n.httpRunner.stop(ctx); err != nil {
		return err
	}
	return n.store.Close()
}

// ProposerNode wires a Proposer to its RPC clients and an HTTP server.
type ProposerNode struct {
	httpRunner
	Proposer *paxos.Proposer
}

// ProposerNodeConfig mirrors paxos.ProposerConfig, keeping the wiring
// (RPC client construction) out of callers.
type ProposerNodeConfig struct {
	ID                string
	Acceptors         []string
	Peers             []string
	PeerIDs           []string
	Learners          []string
	Quorum            int
	MaxInflight       int
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
	RPCTimeout        time.Duration
	Rounds            paxos.RoundStore
	Logger            *zap.Logger
}

func NewProposerNode(cfg ProposerNodeConfig) *ProposerNode {
	client := rpc.NewClient(cfg.RPCTimeout)
	proposer := paxos.NewProposer(paxos.ProposerConfig{
		ID:                cfg.ID,
		Acceptors:         cfg.Acceptors,
		Peers:             cfg.Peers,
		PeerIDs:           cfg.PeerIDs,
		Learners:          cfg.Learners,
		Quorum:            cfg.Quorum,
		MaxInflight:       cfg.MaxInflight,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LeaderTimeout:     cfg.LeaderTimeout,
		AcceptorRPC:       client,
		PeerRPC:           client,
		LearnerRPC:        client,
		Rounds:            cfg.Rounds,
		Logger:            cfg.Logger,
	})
	return &ProposerNode{Proposer: proposer}
}

func (n *ProposerNode) Start(ctx context.Context, addr string, log *zap.Logger) (string, error) {
	resolved, err := n.httpRunner.start(addr, transport.NewProposerServer(n.Proposer, log))
	if err != nil {
		return "", err
	}
	n.Proposer.Start(ctx)
	return resolved, nil
}

// StartOn serves the Proposer on an already-bound listener.
func (n *ProposerNode) StartOn(ctx context.Context, ln net.Listener, log *zap.Logger) (string, error) {
	resolved, err := n.httpRunner.startOn(ln, transport.NewProposerServer(n.Proposer, log))
	if err != nil {
		return "", err
	}
	n.Proposer.Start(ctx)
	return resolved, nil
}

func (n *ProposerNode) Stop(ctx context.Context) error {
	n.Proposer.Stop()
	return n.httpRunner.stop(ctx)
}

// LearnerNode wires a Learner to its catch-up RPC clients and an HTTP
// server.
type LearnerNode struct {
	httpRunner
	Learner *paxos.Learner
	stopCh  chan struct{}
}

type LearnerNodeConfig struct {
	ID              string
	Quorum          int
	Peers           []string
	Acceptors       []string
	RPCTimeout      time.Duration
	CatchUpInterval time.Duration
	Logger          *zap.Logger
}

func NewLearnerNode(cfg LearnerNodeConfig) *LearnerNode {
	client := rpc.NewClient(cfg.RPCTimeout)
	learner := paxos.NewLearner(paxos.LearnerConfig{
		ID:          cfg.ID,
		Quorum:      cfg.Quorum,
		Peers:       cfg.Peers,
		Acceptors:   cfg.Acceptors,
		SyncRPC:     client,
		AcceptorRPC: client,
		Logger:      cfg.Logger,
	})
	interval := cfg.CatchUpInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ln := &LearnerNode{Learner: learner, stopCh: make(chan struct{})}
	go learner.StartCatchUpLoop(context.Background(), interval, ln.stopCh)
	return ln
}

func (n *LearnerNode) Start(addr string, log *zap.Logger) (string, error) {
	return n.httpRunner.start(addr, transport.NewLearnerServer(n.Learner, log))
}

// StartOn serves the Learner on an already-bound listener.
func (n *LearnerNode) StartOn(ln net.Listener, log *zap.Logger) (string, error) {
	return n.httpRunner.startOn(ln, transport.NewLearnerServer(n.Learner, log))
}

func (n *LearnerNode) Stop(ctx context.Context) error {
	close(n.stopCh)
	return n.httpRunner.stop(ctx)
}

// GatewayNode wires a client Gateway to an HTTP server, giving the
// gateway binary the same Start/Stop shape as the three consensus
// roles even though nothing in the Gateway itself needs a background
// loop the way Proposer/Learner do.
type GatewayNode struct {
	httpRunner
	Gateway *gateway.Gateway
}

func NewGatewayNode(cfg gateway.Config) *GatewayNode {
	return &GatewayNode{Gateway: gateway.New(cfg)}
}

func (n *GatewayNode) Start(addr string, log *zap.Logger) (string, error) {
	return n.httpRunner.start(addr, transport.NewGatewayServer(n.Gateway, log))
}

func (n *GatewayNode) Stop(ctx context.Context) error {
	return n.httpRunner.stop(ctx)
}
