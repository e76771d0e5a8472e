package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quorum-kv/paxoskv/internal/notify"
	"github.com/quorum-kv/paxoskv/internal/paxos"
	"github.com/quorum-kv/paxoskv/internal/rpc"
)

type stubClient struct {
	proposeFn func(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error)
	readFn    func(ctx context.Context, addr string, req rpc.ReadRequest) (rpc.ReadResult, error)
}

func (s *stubClient) Propose(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error) {
	return s.proposeFn(ctx, addr, cmd)
}

func (s *stubClient) Read(ctx context.Context, addr string, req rpc.ReadRequest) (rpc.ReadResult, error) {
	return s.readFn(ctx, addr, req)
}

func newTestGateway(client rpcClient, proposers, learners []string) *Gateway {
	return &Gateway{
		id:        "gw-test",
		proposers: proposers,
		learners:  learners,
		client:    client,
		hub:       notify.NewHub(),
	}
}

func TestGatewayWriteRetriesAgainstActualLeader(t *testing.T) {
	calls := 0
	client := &stubClient{
		proposeFn: func(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error) {
			calls++
			if addr == "p1" {
				return rpc.ProposeResponse{}, &paxos.NotLeaderError{Leader: "proposer-1", LeaderAddr: "p2"}
			}
			return rpc.ProposeResponse{Slot: 5, Command: cmd}, nil
		},
	}
	g := newTestGateway(client, []string{"p1", "p2"}, nil)

	slot, err := g.Write(context.Background(), "k", []byte("v"), "c1")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if slot != 5 {
		t.Fatalf("expected slot 5, got %d", slot)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (one rejected, one to the real leader), got %d", calls)
	}
}

func TestGatewayWriteCachesLeaderAcrossCalls(t *testing.T) {
	var seenAddrsFirst []string
	client := &stubClient{
		proposeFn: func(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error) {
			seenAddrsFirst = append(seenAddrsFirst, addr)
			if addr == "p1" {
				return rpc.ProposeResponse{}, &paxos.NotLeaderError{Leader: "proposer-1", LeaderAddr: "p2"}
			}
			return rpc.ProposeResponse{Slot: 1, Command: cmd}, nil
		},
	}
	g := newTestGateway(client, []string{"p1", "p2"}, nil)

	if _, err := g.Write(context.Background(), "k", []byte("v"), "c1"); err != nil {
		t.Fatalf("write: %v", err)
	}

	var secondCallAddr string
	client.proposeFn = func(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error) {
		secondCallAddr = addr
		return rpc.ProposeResponse{Slot: 2, Command: cmd}, nil
	}
	if _, err := g.Write(context.Background(), "k2", []byte("v2"), "c1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if secondCallAddr != "p2" {
		t.Fatalf("expected cached leader p2 to be tried first, got %s", secondCallAddr)
	}
}

func TestGatewayReadEventualUsesLearnerTier(t *testing.T) {
	client := &stubClient{
		readFn: func(ctx context.Context, addr string, req rpc.ReadRequest) (rpc.ReadResult, error) {
			if req.ConsistencyLevel != paxos.ConsistencyEventual {
				t.Errorf("expected eventual, got %s", req.ConsistencyLevel)
			}
			return rpc.ReadResult{Value: []byte("v"), Slot: 3}, nil
		},
	}
	g := newTestGateway(client, nil, []string{"l1"})

	v, slot, err := g.Read(context.Background(), "k", "c1", paxos.ConsistencyEventual)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(v) != "v" || slot != 3 {
		t.Fatalf("unexpected read result: v=%q slot=%d", v, slot)
	}
}

func TestGatewayReadStrongProposesNoOpFirst(t *testing.T) {
	var proposedKind paxos.CommandKind = -1
	client := &stubClient{
		proposeFn: func(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error) {
			proposedKind = cmd.Kind
			return rpc.ProposeResponse{Slot: 10, Command: cmd}, nil
		},
		readFn: func(ctx context.Context, addr string, req rpc.ReadRequest) (rpc.ReadResult, error) {
			if req.MinSlot != 10 {
				t.Errorf("expected minSlot=10, got %d", req.MinSlot)
			}
			return rpc.ReadResult{Value: []byte("v"), Slot: 10}, nil
		},
	}
	g := newTestGateway(client, []string{"p1"}, []string{"l1"})

	if _, _, err := g.Read(context.Background(), "k", "c1", paxos.ConsistencyStrong); err != nil {
		t.Fatalf("read: %v", err)
	}
	if proposedKind != paxos.CommandNoOp {
		t.Fatalf("expected a no-op barrier to be proposed, got kind %v", proposedKind)
	}
}

func TestGatewayWriteFailsWithNoProposers(t *testing.T) {
	g := newTestGateway(&stubClient{}, nil, nil)
	if _, err := g.Write(context.Background(), "k", nil, "c1"); err == nil {
		t.Fatalf("expected an error with no proposers configured")
	}
}

func TestGatewayProposeAtLeaderPropagatesNonLeaderErrors(t *testing.T) {
	wantErr := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &stubClient{
		proposeFn: func(ctx context.Context, addr string, cmd paxos.Command) (rpc.ProposeResponse, error) {
			cancel()
			return rpc.ProposeResponse{}, wantErr
		},
	}
	g := newTestGateway(client, []string{"p1"}, nil)

	_, err := g.Write(ctx, "k", nil, "c1")
	if err == nil {
		t.Fatalf("expected an error once ctx is done")
	}
	if !strings.Contains(err.Error(), wantErr.Error()) {
		t.Fatalf("expected the proposer's error %q in the returned error, got %v", wantErr, err)
	}
}
