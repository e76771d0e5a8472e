package paxos

// Role is a Proposer's position in the state machine spec.md §4.2 draws:
//
//	FOLLOWER --timeout--> CANDIDATE --slot0 chosen (self)--> LEADER
//	   ^                      |                                 |
//	   |                      +--slot0 chosen (other)--> FOLLOWER
//	   +---------- HB from higher epoch <----------------------+
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}
