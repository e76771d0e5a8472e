package paxos

import "context"

// AcceptorRPC is how a Proposer talks to one Acceptor. Implementations
// (internal/rpc) own the HTTP round trip, deadline, and backoff; this
// package only needs the logical call.
type AcceptorRPC interface {
	Prepare(ctx context.Context, addr string, req PrepareRequest) (PrepareResponse, error)
	Accept(ctx context.Context, addr string, req AcceptRequest) (AcceptResponse, error)
}

// PeerRPC is how a Proposer reaches its peer Proposers (heartbeats only —
// leader election itself runs over AcceptorRPC like any other slot).
type PeerRPC interface {
	Heartbeat(ctx context.Context, addr string, hb Heartbeat) error
}

// LearnerStatusInfo is the subset of a Learner's /status this package
// cares about: how far it has committed, used by a new leader to size
// its recovery window and to report progress in its own heartbeats.
type LearnerStatusInfo struct {
	CommittedUpTo int64 `json:"committedUpTo"`
}

// LearnerStatusRPC lets a Proposer poll a Learner's progress.
type LearnerStatusRPC interface {
	Status(ctx context.Context, addr string) (LearnerStatusInfo, error)
}

// LearnerSyncRPC is how a Learner catches up on committed slots it
// missed, by asking a peer Learner directly for its log.
type LearnerSyncRPC interface {
	Sync(ctx context.Context, addr string, req SyncRequest) ([]SyncEntry, error)
}

// AcceptorQueryRPC is a Learner's fallback catch-up path when no peer
// Learner is reachable or current enough: ask an Acceptor what it has
// durably accepted for a slot range and re-derive the choice rule
// locally.
type AcceptorQueryRPC interface {
	QueryAccepted(ctx context.Context, addr string, from, to int64) ([]AcceptedEntry, error)
}
