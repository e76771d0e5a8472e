package paxos

import (
	"context"
	"testing"
	"time"
)

func TestLearnerCommitsOnQuorum(t *testing.T) {
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 2})
	n := ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := Command{Kind: CommandWrite, Key: "k", Value: []byte("v")}

	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd})
	if got := l.CommittedUpTo(); got != 0 {
		t.Fatalf("expected no commit below quorum, got %d", got)
	}

	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a2", ProposalNumber: n, Value: cmd})
	if got := l.CommittedUpTo(); got != 1 {
		t.Fatalf("expected slot 1 committed at quorum, got %d", got)
	}

	v, committed, err := l.Read(context.Background(), "k", "", ConsistencyEventual, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "v" || committed != 1 {
		t.Fatalf("expected v=%q committed=1, got v=%q committed=%d", "v", v, committed)
	}
}

func TestLearnerDuplicateAcceptorVoteDoesNotDoubleCount(t *testing.T) {
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 2})
	n := ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := Command{Kind: CommandWrite, Key: "k", Value: []byte("v")}

	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd})
	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd})
	if got := l.CommittedUpTo(); got != 0 {
		t.Fatalf("a repeated vote from the same acceptor must not reach quorum, got committedUpTo=%d", got)
	}
}

func TestLearnerAppliesOutOfOrderSlotsOnceContiguous(t *testing.T) {
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 2})
	n := ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd2 := Command{Kind: CommandWrite, Key: "k2", Value: []byte("v2")}
	cmd1 := Command{Kind: CommandWrite, Key: "k1", Value: []byte("v1")}

	l.HandleAcceptNotification(AcceptNotification{Slot: 2, AcceptorID: "a1", ProposalNumber: n, Value: cmd2})
	l.HandleAcceptNotification(AcceptNotification{Slot: 2, AcceptorID: "a2", ProposalNumber: n, Value: cmd2})
	if got := l.CommittedUpTo(); got != 0 {
		t.Fatalf("slot 2 chosen before slot 1 must not advance committedUpTo yet, got %d", got)
	}

	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd1})
	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a2", ProposalNumber: n, Value: cmd1})
	if got := l.CommittedUpTo(); got != 2 {
		t.Fatalf("closing the gap at slot 1 should apply slot 2 too, got committedUpTo=%d", got)
	}
}

func TestLearnerWaitCommittedUnblocksOnCommit(t *testing.T) {
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 1})
	n := ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := Command{Kind: CommandNoOp}

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errCh <- l.WaitCommitted(ctx, 1)
	}()

	time.Sleep(10 * time.Millisecond)
	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd})

	if err := <-errCh; err != nil {
		t.Fatalf("expected WaitCommitted to unblock without error, got %v", err)
	}
}

func TestLearnerWaitCommittedRespectsDeadline(t *testing.T) {
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitCommitted(ctx, 1); err == nil {
		t.Fatalf("expected WaitCommitted to time out when the slot never commits")
	}
}

type fakeSyncRPC struct {
	entries map[string][]SyncEntry
}

func (f *fakeSyncRPC) Sync(ctx context.Context, addr string, req SyncRequest) ([]SyncEntry, error) {
	return f.entries[addr], nil
}

func TestLearnerCatchUpFromPeer(t *testing.T) {
	cmd := Command{Kind: CommandWrite, Key: "k", Value: []byte("v")}
	peer := &fakeSyncRPC{entries: map[string][]SyncEntry{
		"peer1": {{Slot: 1, Value: cmd}},
	}}
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 2, Peers: []string{"peer1"}, SyncRPC: peer})

	// Mention slot 1 via a notification that never reaches quorum alone,
	// so highestSeen advances but committedUpTo doesn't.
	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: ProposalNumber{Round: 1, ProposerID: "p1"}, Value: cmd})

	l.CatchUp(context.Background())
	if got := l.CommittedUpTo(); got != 1 {
		t.Fatalf("expected CatchUp to commit slot 1 from peer sync, got %d", got)
	}
}

type fakeAcceptorQueryRPC struct {
	entries map[string][]AcceptedEntry
}

func (f *fakeAcceptorQueryRPC) QueryAccepted(ctx context.Context, addr string, from, to int64) ([]AcceptedEntry, error) {
	return f.entries[addr], nil
}

func TestLearnerCatchUpFallsBackToAcceptorQuorum(t *testing.T) {
	n := ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := Command{Kind: CommandWrite, Key: "k", Value: []byte("v")}
	entry := AcceptedEntry{Slot: 1, AcceptedNum: n, AcceptedVal: &cmd}

	acc := &fakeAcceptorQueryRPC{entries: map[string][]AcceptedEntry{
		"acc1": {entry},
		"acc2": {entry},
		"acc3": {entry},
	}}
	l := NewLearner(LearnerConfig{
		ID:          "l1",
		Quorum:      2,
		Acceptors:   []string{"acc1", "acc2", "acc3"},
		AcceptorRPC: acc,
	})

	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd})
	l.CatchUp(context.Background())
	if got := l.CommittedUpTo(); got != 1 {
		t.Fatalf("expected acceptor-quorum fallback to commit slot 1, got %d", got)
	}
}

func TestLearnerSyncReturnsOnlyCommittedRange(t *testing.T) {
	l := NewLearner(LearnerConfig{ID: "l1", Quorum: 1})
	n := ProposalNumber{Round: 1, ProposerID: "p1"}
	cmd := Command{Kind: CommandWrite, Key: "k", Value: []byte("v")}
	l.HandleAcceptNotification(AcceptNotification{Slot: 1, AcceptorID: "a1", ProposalNumber: n, Value: cmd})

	entries := l.Sync(SyncRequest{From: 1, To: 5})
	if len(entries) != 1 || entries[0].Slot != 1 {
		t.Fatalf("expected sync to return only committed slot 1, got %+v", entries)
	}
}
