package paxos

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LearnerConfig bundles a Learner's static dependencies and topology.
type LearnerConfig struct {
	ID          string
	Quorum      int
	Peers       []string
	Acceptors   []string
	SyncRPC     LearnerSyncRPC
	AcceptorRPC AcceptorQueryRPC
	Logger      *zap.Logger
}

// tallyKey identifies one (slot, proposal, value) combination being
// counted toward quorum. Acceptors occasionally accept the same value
// at different proposal numbers (once per successful Phase 2 round for
// that slot); only identical (slot, proposalNumber, value) triples are
// the same vote.
type tallyKey struct {
	slot  int64
	round int64
	prop  string
	value string
}

func keyFor(slot int64, n ProposalNumber, v Command) tallyKey {
	return tallyKey{slot: slot, round: n.Round, prop: n.ProposerID, value: fmt.Sprintf("%d:%s:%x", v.Kind, v.Key, v.Value)}
}

// Learner discovers chosen values purely by tallying the Acceptor
// broadcast fan-out, applies them to a slot-ordered commit log and a
// derived key/value table, and serves the three read consistency
// levels.
type Learner struct {
	id        string
	quorum    int
	peers     []string
	acceptors []string
	syncRPC   LearnerSyncRPC
	acceptRPC AcceptorQueryRPC
	log       *zap.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	tallies       map[tallyKey]map[string]bool
	chosen        map[int64]Command
	kv            map[string][]byte
	sessionIndex  map[string]int64
	committedUpTo int64
	highestSeen   int64
}

// NewLearner builds a Learner ready to receive BroadcastAccepted calls.
func NewLearner(cfg LearnerConfig) *Learner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Learner{
		id:           cfg.ID,
		quorum:       cfg.Quorum,
		peers:        cfg.Peers,
		acceptors:    cfg.Acceptors,
		syncRPC:      cfg.SyncRPC,
		acceptRPC:    cfg.AcceptorRPC,
		log:          logger,
		tallies:      make(map[tallyKey]map[string]bool),
		chosen:       make(map[int64]Command),
		kv:           make(map[string][]byte),
		sessionIndex: make(map[string]int64),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// BroadcastAccepted implements AcceptBroadcaster, letting an Acceptor in
// the same process hand this Learner a notification directly. Remote
// Acceptors reach the same method via the HTTP /notify handler.
func (l *Learner) BroadcastAccepted(msg AcceptNotification) {
	l.HandleAcceptNotification(msg)
}

// HandleAcceptNotification tallies one Acceptor's accept of (slot,
// proposalNumber, value) and, once a quorum of distinct Acceptors have
// reported the same triple, marks the slot chosen and folds it into the
// commit log.
func (l *Learner) HandleAcceptNotification(msg AcceptNotification) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.Slot > l.highestSeen {
		l.highestSeen = msg.Slot
	}
	if _, already := l.chosen[msg.Slot]; already {
		return
	}

	key := keyFor(msg.Slot, msg.ProposalNumber, msg.Value)
	set, ok := l.tallies[key]
	if !ok {
		set = make(map[string]bool)
		l.tallies[key] = set
	}
	set[msg.AcceptorID] = true
	if len(set) < l.quorum {
		return
	}

	l.commitLocked(msg.Slot, msg.Value)
	delete(l.tallies, key)
}

// commitLocked records value as chosen for slot and, if slot is exactly
// the next one expected, applies it and every subsequently-chosen slot
// that is now contiguous. Slots chosen out of order sit in l.chosen
// until the gap ahead of them closes.
func (l *Learner) commitLocked(slot int64, value Command) {
	l.chosen[slot] = value
	for {
		next := l.committedUpTo + 1
		v, ok := l.chosen[next]
		if !ok {
			return
		}
		l.applyLocked(next, v)
		l.committedUpTo = next
	}
}

func (l *Learner) applyLocked(slot int64, v Command) {
	switch v.Kind {
	case CommandWrite:
		l.kv[v.Key] = v.Value
		if v.ClientID != "" {
			l.sessionIndex[v.ClientID] = slot
		}
	case CommandNoOp, CommandLeader:
		// No KV mutation; still advances committedUpTo so strong reads
		// and leader-election ballots take effect.
	}
	l.cond.Broadcast()
}

// CommittedUpTo returns the highest contiguously-committed slot.
func (l *Learner) CommittedUpTo() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committedUpTo
}

// ID returns this Learner's identity.
func (l *Learner) ID() string { return l.id }

// WaitCommitted blocks until committedUpTo >= slot or ctx is done; it
// does not itself trigger catch-up. Callers needing a bound on
// latency should pass a context with a deadline; spec.md's strong and
// session reads are the two callers of this.
func (l *Learner) WaitCommitted(ctx context.Context, slot int64) error {
	if slot <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.committedUpTo < slot {
			select {
			case <-ctx.Done():
				l.mu.Unlock()
				return
			default:
			}
			l.cond.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiting goroutine so it doesn't leak; it will notice
		// ctx.Done() on its next spurious wakeup or the next Broadcast.
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Read implements spec.md §4.3's three consistency levels. minSlot is
// used by the "strong" flow: the gateway first proposes a no-op to
// obtain a fresh slot, then calls Read with level=strong and that slot
// as minSlot, so this method's job is simply "block until minSlot is
// committed, then read" — identical in shape to a session read with an
// explicit session floor instead of a per-client one.
func (l *Learner) Read(ctx context.Context, key, clientID string, level ConsistencyLevel, minSlot int64) ([]byte, int64, error) {
	switch level {
	case ConsistencyEventual:
		l.mu.Lock()
		v, ok := l.kv[key]
		committed := l.committedUpTo
		l.mu.Unlock()
		if !ok {
			return nil, committed, nil
		}
		return v, committed, nil

	case ConsistencySession:
		l.mu.Lock()
		floor := l.sessionIndex[clientID]
		l.mu.Unlock()
		if err := l.WaitCommitted(ctx, floor); err != nil {
			return nil, 0, ErrReadUnavailable
		}
		l.mu.Lock()
		v, committed := l.kv[key], l.committedUpTo
		l.mu.Unlock()
		return v, committed, nil

	case ConsistencyStrong:
		if err := l.WaitCommitted(ctx, minSlot); err != nil {
			return nil, 0, ErrReadUnavailable
		}
		l.mu.Lock()
		v, committed := l.kv[key], l.committedUpTo
		l.mu.Unlock()
		return v, committed, nil

	default:
		return nil, 0, fmt.Errorf("paxos: unknown consistency level %q", level)
	}
}

// Sync implements spec.md's peer-Learner catch-up endpoint: return every
// committed (slot, value) this Learner has in [req.From, req.To].
func (l *Learner) Sync(req SyncRequest) []SyncEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SyncEntry
	for slot := req.From; slot <= req.To; slot++ {
		if slot > l.committedUpTo {
			break
		}
		if v, ok := l.chosen[slot]; ok {
			out = append(out, SyncEntry{Slot: slot, Value: v})
		}
	}
	return out
}

// CatchUp closes the gap between committedUpTo and the highest slot
// this Learner has ever seen mentioned in a notification, first trying
// peer Learners' /sync, then falling back to querying Acceptors
// directly and re-deriving the choice rule (the value reported by any
// Acceptor is, by definition, the highest that Acceptor has durably
// accepted — if a quorum of them report the same value for a slot, it
// was chosen regardless of whether this Learner ever saw the live
// broadcast).
func (l *Learner) CatchUp(ctx context.Context) {
	l.mu.Lock()
	from, to := l.committedUpTo+1, l.highestSeen
	l.mu.Unlock()
	if from > to {
		return
	}

	for _, addr := range l.peers {
		entries, err := l.syncRPC.Sync(ctx, addr, SyncRequest{From: from, To: to})
		if err != nil || len(entries) == 0 {
			continue
		}
		l.mu.Lock()
		for _, e := range entries {
			if _, ok := l.chosen[e.Slot]; !ok {
				l.commitLocked(e.Slot, e.Value)
			}
		}
		from = l.committedUpTo + 1
		l.mu.Unlock()
		if from > to {
			return
		}
	}

	if l.acceptRPC == nil || len(l.acceptors) == 0 {
		return
	}
	byValue := make(map[int64]map[string]int)
	values := make(map[string]Command)
	for _, addr := range l.acceptors {
		entries, err := l.acceptRPC.QueryAccepted(ctx, addr, from, to)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.AcceptedVal == nil {
				continue
			}
			vk := fmt.Sprintf("%v", keyFor(e.Slot, e.AcceptedNum, *e.AcceptedVal))
			values[vk] = *e.AcceptedVal
			if byValue[e.Slot] == nil {
				byValue[e.Slot] = make(map[string]int)
			}
			byValue[e.Slot][vk]++
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slots := make([]int64, 0, len(byValue))
	for slot := range byValue {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for _, slot := range slots {
		for vk, count := range byValue[slot] {
			if count >= l.quorum {
				if _, ok := l.chosen[slot]; !ok {
					l.commitLocked(slot, values[vk])
				}
				break
			}
		}
	}
}

// StartCatchUpLoop periodically runs CatchUp until stopped, covering
// slots whose notifications never reached a quorum locally. Like
// CatchUp, it only looks at slots up to the highest one this Learner
// has seen in a notification: a Learner that has received no
// notification at all does not catch up.
func (l *Learner) StartCatchUpLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.CatchUp(ctx)
		}
	}
}
