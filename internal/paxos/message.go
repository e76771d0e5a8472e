package paxos

// Envelope carries the fields every Paxos message shares, per spec.md's
// "Message polymorphism" design note: {kind, from, epoch, body}. The
// concrete request/response types below embed it so handlers can check
// Epoch before touching role state, rejecting stale callers without
// inspecting the body.
type Envelope struct {
	From  string `json:"from"`
	Epoch int64  `json:"epoch"`
}

// PrepareRequest is Phase 1's request: "promise not to accept below N".
type PrepareRequest struct {
	Envelope
	Slot           int64          `json:"slot"`
	ProposalNumber ProposalNumber `json:"proposalNum"`
}

// PrepareResponse is the Acceptor's reply to a PrepareRequest. Status is
// either "promise" or "nack"; on "promise", AcceptedNum/AcceptedVal carry
// whatever this Acceptor had already accepted for the slot (zero/nil if
// nothing). On "nack", Promised carries the proposal number that beat the
// requester, so the Proposer knows what to beat next.
type PrepareResponse struct {
	Status      string         `json:"status"`
	Slot        int64          `json:"slot"`
	AcceptedNum ProposalNumber `json:"acceptedNum,omitempty"`
	AcceptedVal *Command       `json:"acceptedVal,omitempty"`
	Promised    ProposalNumber `json:"promised,omitempty"`
	From        string         `json:"from"`
}

// AcceptRequest is Phase 2's request: "accept value V at proposal N".
type AcceptRequest struct {
	Envelope
	Slot           int64          `json:"slot"`
	ProposalNumber ProposalNumber `json:"proposalNum"`
	Value          Command        `json:"value"`
}

// AcceptResponse is the Acceptor's reply to an AcceptRequest.
type AcceptResponse struct {
	Status   string         `json:"status"`
	Slot     int64          `json:"slot"`
	Promised ProposalNumber `json:"promised,omitempty"`
	From     string         `json:"from"`
}

// AcceptNotification is what an Acceptor broadcasts to every known
// Learner immediately after a successful AcceptRequest, and what a
// Learner's catch-up sync re-derives from queryAccepted. It is the unit
// the Learner's accept-tally counts toward quorum.
type AcceptNotification struct {
	Slot           int64          `json:"slot"`
	AcceptorID     string         `json:"acceptorId"`
	ProposalNumber ProposalNumber `json:"proposalNum"`
	Value          Command        `json:"value"`
}

// AcceptedEntry is one row of an Acceptor's queryAccepted response: the
// slot's current (acceptedNum, acceptedVal), used by a Learner to
// reconstruct the choice rule locally during catch-up.
type AcceptedEntry struct {
	Slot        int64          `json:"slot"`
	AcceptedNum ProposalNumber `json:"acceptedNum"`
	AcceptedVal *Command       `json:"acceptedVal,omitempty"`
}

// Heartbeat is the leader's periodic liveness beacon to every peer
// Proposer, carrying enough information for a follower to both reset its
// election timer and advance nextSlot past whatever the leader has
// already committed.
type Heartbeat struct {
	ProposerID    string `json:"proposerId"`
	Epoch         int64  `json:"epoch"`
	CommittedUpTo int64  `json:"committedUpTo"`
}

// SyncRequest asks a peer Learner (or, during Acceptor fallback,
// effectively re-derives the same range from queryAccepted) to fill a
// contiguous gap in the requester's commit log.
type SyncRequest struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// SyncEntry is one committed slot returned by a peer's /sync.
type SyncEntry struct {
	Slot  int64   `json:"slot"`
	Value Command `json:"value"`
}

// ConsistencyLevel selects a read's staleness/latency tradeoff. spec.md
// §9 notes the source used both "consistency" and "consistency_level" on
// the wire; this repo fixes the field name to ConsistencyLevel
// everywhere, per that decision.
type ConsistencyLevel string

const (
	ConsistencyStrong   ConsistencyLevel = "strong"
	ConsistencySession  ConsistencyLevel = "session"
	ConsistencyEventual ConsistencyLevel = "eventual"
)
