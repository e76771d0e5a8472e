package paxos

import "errors"

// Error kinds surfaced across the system, per spec.md §7. TransientNetwork
// and ProposalSuperseded are deliberately absent here: they're handled
// entirely inside the Proposer/rpc retry loop and never escape to a
// caller.
var (
	// ErrNotLeader is returned by a Proposer that received a /propose
	// while it is not LEADER. The Proposer actually returns a
	// *NotLeaderError, which matches ErrNotLeader under errors.Is and
	// carries the leader hint in its Leader/LeaderAddr fields.
	ErrNotLeader = errors.New("paxos: not leader")

	// ErrNoQuorum means a Proposer could not assemble Q promises or
	// accepts before its deadline. The slot is left unbound; the caller
	// may retry.
	ErrNoQuorum = errors.New("paxos: no quorum reached before deadline")

	// ErrStaleEpoch means a Proposer's Phase 2 for a client command
	// completed, but by the time it checked, its own epoch had already
	// moved on — some other Proposer won an election in the meantime.
	// The command it just bound is still safely committed; only the
	// caller's retry-elsewhere decision is affected.
	ErrStaleEpoch = errors.New("paxos: stale epoch")

	// ErrDurabilityFailure means an Acceptor could not persist a
	// promise/accept decision. The Acceptor itself does not return it
	// and does not stop: on a failed save it logs at error level, replies
	// nack (never an affirmative reply), and keeps serving.
	ErrDurabilityFailure = errors.New("paxos: durability failure")

	// ErrReadUnavailable means a strong read could not confirm current
	// leadership, or catch up to the required slot, before its deadline.
	ErrReadUnavailable = errors.New("paxos: read unavailable")

	// ErrBackpressure means the leader's inflight slot window is full.
	ErrBackpressure = errors.New("paxos: backpressure, inflight window full")

	// ErrRejected is the internal "Phase 1 or Phase 2 was NACKed" signal
	// that drives a Proposer's retry loop. It never crosses an RPC
	// boundary or an external API.
	ErrRejected = errors.New("paxos: proposal rejected")
)
