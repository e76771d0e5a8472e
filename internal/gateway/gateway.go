// Package gateway implements the client-facing front door described in
// spec.md §4.4: it hides leader discovery from callers, retries a write
// against whichever Proposer is actually leader, resolves the three
// read consistency levels against the Learner tier, and owns the
// subscribe/notify surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/notify"
	"github.com/quorum-kv/paxoskv/internal/paxos"
	"github.com/quorum-kv/paxoskv/internal/rpc"
)

// proposeClient and readClient are the narrow RPC surfaces Gateway
// depends on, so tests can stub them without an HTTP round trip.
type proposeClient interface {
	Propose(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error)
}

type readClient interface {
	Read(ctx context.Context, addr string, req rpc.ReadRequest) (rpc.ReadResult, error)
}

// rpcClient is the combined propose+read surface a Gateway holds.
type rpcClient interface {
	proposeClient
	readClient
}

// Gateway is a stateless-except-for-caching front end: any instance can
// serve any request, so a deployment typically runs several behind a
// load balancer.
type Gateway struct {
	id        string
	proposers []string
	learners  []string
	client    rpcClient
	hub       *notify.Hub
	log       *zap.Logger

	mu          sync.Mutex
	leaderAddr  string
	learnerNext int
}

// Config bundles a Gateway's topology and dependencies.
type Config struct {
	ID         string
	Proposers  []string
	Learners   []string
	RPCTimeout time.Duration
	Logger     *zap.Logger
}

func New(cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		id:        cfg.ID,
		proposers: cfg.Proposers,
		learners:  cfg.Learners,
		client:    rpc.NewClient(cfg.RPCTimeout),
		hub:       notify.NewHub(),
		log:       log,
	}
}

// Hub exposes the subscribe/notify hub for the HTTP layer.
func (g *Gateway) Hub() *notify.Hub { return g.hub }

// Write proposes a CommandWrite for key/value on behalf of clientID,
// retrying against the cluster's actual leader until it commits or ctx
// expires, then publishes the write to any matching subscribers.
func (g *Gateway) Write(ctx context.Context, key string, value []byte, clientID string) (int64, error) {
	cmd := paxos.Command{Kind: paxos.CommandWrite, Key: key, Value: value, ClientID: clientID}
	slot, _, err := g.proposeAtLeader(ctx, cmd)
	if err != nil {
		return 0, err
	}
	g.hub.Publish(notify.Event{Key: key, Value: value, Slot: slot})
	return slot, nil
}

// Read serves key at the requested consistency level, per spec.md
// §4.3's three modes.
func (g *Gateway) Read(ctx context.Context, key, clientID string, level paxos.ConsistencyLevel) ([]byte, int64, error) {
	switch level {
	case paxos.ConsistencyEventual, paxos.ConsistencySession, "":
		if level == "" {
			level = paxos.ConsistencyEventual
		}
		addr := g.pickLearner()
		if addr == "" {
			return nil, 0, errors.New("gateway: no learners configured")
		}
		res, err := g.client.Read(ctx, addr, rpc.ReadRequest{Key: key, ConsistencyLevel: level, ClientID: clientID})
		if err != nil {
			return nil, 0, err
		}
		return res.Value, res.Slot, nil

	case paxos.ConsistencyStrong:
		noop := paxos.Command{Kind: paxos.CommandNoOp}
		slot, _, err := g.proposeAtLeader(ctx, noop)
		if err != nil {
			return nil, 0, err
		}
		addr := g.pickLearner()
		if addr == "" {
			return nil, 0, errors.New("gateway: no learners configured")
		}
		res, err := g.client.Read(ctx, addr, rpc.ReadRequest{
			Key: key, ConsistencyLevel: paxos.ConsistencyStrong, MinSlot: slot,
		})
		if err != nil {
			return nil, 0, err
		}
		return res.Value, res.Slot, nil

	default:
		return nil, 0, fmt.Errorf("gateway: unknown consistency level %q", level)
	}
}

// Subscribe registers pattern with the notify hub.
func (g *Gateway) Subscribe(pattern string) (string, <-chan notify.Event) {
	return g.hub.Subscribe(pattern)
}

// Unsubscribe removes a previously registered subscription.
func (g *Gateway) Unsubscribe(id string) {
	g.hub.Unsubscribe(id)
}

func (g *Gateway) pickLearner() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.learners) == 0 {
		return ""
	}
	addr := g.learners[g.learnerNext%len(g.learners)]
	g.learnerNext++
	return addr
}

// proposeAtLeader tries the cached leader first, then falls through
// every known Proposer, updating the cache from whichever NotLeaderError
// hint comes back, until one accepts the command or ctx is exhausted.
func (g *Gateway) proposeAtLeader(ctx context.Context, cmd paxos.Command) (int64, paxos.Command, error) {
	if len(g.proposers) == 0 {
		return 0, paxos.Command{}, errors.New("gateway: no proposers configured")
	}

	tryOrder := g.candidateOrder()
	var lastErr error
	for attempt := 0; ; attempt++ {
		for _, addr := range tryOrder {
			select {
			case <-ctx.Done():
				return 0, paxos.Command{}, ctx.Err()
			default:
			}
			resp, err := g.client.Propose(ctx, addr, cmd)
			if err == nil {
				g.setLeader(addr)
				return resp.Slot, resp.Command, nil
			}
			var nle *paxos.NotLeaderError
			if errors.As(err, &nle) && nle.LeaderAddr != "" {
				g.setLeader(nle.LeaderAddr)
			}
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return 0, paxos.Command{}, fmt.Errorf("gateway: propose failed: %w (last: %v)", ctx.Err(), lastErr)
			}
			return 0, paxos.Command{}, ctx.Err()
		default:
		}
		tryOrder = g.candidateOrder()
	}
}

// candidateOrder puts the cached leader first (if any and still known),
// followed by every other Proposer, so a correct guess costs one call.
func (g *Gateway) candidateOrder() []string {
	g.mu.Lock()
	leader := g.leaderAddr
	g.mu.Unlock()
	if leader == "" {
		return g.proposers
	}
	ordered := make([]string, 0, len(g.proposers))
	ordered = append(ordered, leader)
	for _, addr := range g.proposers {
		if addr != leader {
			ordered = append(ordered, addr)
		}
	}
	return ordered
}

func (g *Gateway) setLeader(addr string) {
	g.mu.Lock()
	g.leaderAddr = addr
	g.mu.Unlock()
}
