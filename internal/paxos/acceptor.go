package paxos

import (
	"sync"

	"go.uber.org/zap"
)

// AcceptBroadcaster fans a freshly-accepted value out to every known
// Learner. It's fire-and-forget, per spec.md §9's transport note ("don't
// block Send when destination is down") — Learners that miss the
// broadcast will catch up via sync or queryAccepted, so the Acceptor
// never waits on it before replying to the Proposer.
type AcceptBroadcaster interface {
	BroadcastAccepted(AcceptNotification)
}

// Acceptor is the durable voter described in spec.md §4.1. It holds one
// promise/accept record per slot, persisted through Storage before any
// reply that depends on it is returned — Invariant A3.
type Acceptor struct {
	id        string
	store     Storage
	notifier  AcceptBroadcaster
	log       *zap.Logger
	slotLocks sync.Map // slot int64 -> *sync.Mutex
}

// AcceptorRecord is one slot's durable promise/accept state. The
// internal/storage package's Record type is a type alias for this, so
// that any storage.Storage implementation satisfies the Storage
// interface below without paxos needing to import storage (which itself
// imports paxos for ProposalNumber/Command — importing it back here
// would be a cycle).
type AcceptorRecord struct {
	Promised    ProposalNumber
	AcceptedNum ProposalNumber
	AcceptedVal *Command
}

// Storage is the durability contract an Acceptor is built on; see
// internal/storage for the production (file-journal) and in-memory
// implementations.
type Storage interface {
	SavePromise(slot int64, promised ProposalNumber) error
	SaveAccept(slot int64, n ProposalNumber, value Command) error
	Load(slot int64) (AcceptorRecord, error)
	LoadAll() (map[int64]AcceptorRecord, error)
}

// NewAcceptor builds an Acceptor identified by id, persisting through
// store and broadcasting fresh accepts through notifier (which may be
// nil, e.g. in unit tests that don't care about Learner fan-out).
func NewAcceptor(id string, store Storage, notifier AcceptBroadcaster, log *zap.Logger) *Acceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Acceptor{id: id, store: store, notifier: notifier, log: log}
}

func (a *Acceptor) lockFor(slot int64) *sync.Mutex {
	l, _ := a.slotLocks.LoadOrStore(slot, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// HandlePrepare implements spec.md's prepare(slot, n) operation.
//
// If n > promised, the Acceptor promises: it durably records n as the new
// promised number for the slot and returns whatever it had already
// accepted (possibly nothing), so the Proposer can honor the value-
// adoption rule. Otherwise — including the n == promised tie, which
// spec.md calls out explicitly — it NACKs with the current promised
// number.
func (a *Acceptor) HandlePrepare(req PrepareRequest) PrepareResponse {
	lock := a.lockFor(req.Slot)
	lock.Lock()
	defer lock.Unlock()

	rec, err := a.store.Load(req.Slot)
	if err != nil {
		a.log.Error("prepare: load failed", zap.Int64("slot", req.Slot), zap.Error(err))
		return PrepareResponse{Status: "nack", Slot: req.Slot, From: a.id}
	}

	if !req.ProposalNumber.GreaterThan(rec.Promised) {
		return PrepareResponse{
			Status:   "nack",
			Slot:     req.Slot,
			Promised: rec.Promised,
			From:     a.id,
		}
	}

	if err := a.store.SavePromise(req.Slot, req.ProposalNumber); err != nil {
		a.log.Error("prepare: save failed", zap.Int64("slot", req.Slot), zap.Error(err))
		return PrepareResponse{Status: "nack", Slot: req.Slot, Promised: rec.Promised, From: a.id}
	}

	return PrepareResponse{
		Status:      "promise",
		Slot:        req.Slot,
		AcceptedNum: rec.AcceptedNum,
		AcceptedVal: rec.AcceptedVal,
		From:        a.id,
	}
}

// HandleAccept implements spec.md's accept(slot, n, v) operation. The
// comparison is n >= promised (not strictly greater) — an Acceptor must
// accept at the exact number it promised, which is the entire point of
// having promised it. On success, it durably records (n, v) — which also
// re-promises n — and fans the acceptance out to Learners before
// replying ACCEPTED.
func (a *Acceptor) HandleAccept(req AcceptRequest) AcceptResponse {
	lock := a.lockFor(req.Slot)
	lock.Lock()
	defer lock.Unlock()

	rec, err := a.store.Load(req.Slot)
	if err != nil {
		a.log.Error("accept: load failed", zap.Int64("slot", req.Slot), zap.Error(err))
		return AcceptResponse{Status: "nack", Slot: req.Slot, From: a.id}
	}

	if req.ProposalNumber.Less(rec.Promised) {
		return AcceptResponse{
			Status:   "nack",
			Slot:     req.Slot,
			Promised: rec.Promised,
			From:     a.id,
		}
	}

	if err := a.store.SaveAccept(req.Slot, req.ProposalNumber, req.Value); err != nil {
		a.log.Error("accept: save failed", zap.Int64("slot", req.Slot), zap.Error(err))
		return AcceptResponse{Status: "nack", Slot: req.Slot, Promised: rec.Promised, From: a.id}
	}

	if a.notifier != nil {
		a.notifier.BroadcastAccepted(AcceptNotification{
			Slot:           req.Slot,
			AcceptorID:     a.id,
			ProposalNumber: req.ProposalNumber,
			Value:          req.Value,
		})
	}

	return AcceptResponse{
		Status: "accepted",
		Slot:   req.Slot,
		From:   a.id,
	}
}

// QueryAccepted implements spec.md's read-only queryAccepted(slotRange),
// used by Learners during catch-up to re-derive which slots are provably
// chosen without waiting for a fresh broadcast.
func (a *Acceptor) QueryAccepted(from, to int64) []AcceptedEntry {
	all, err := a.store.LoadAll()
	if err != nil {
		a.log.Error("queryAccepted: load failed", zap.Error(err))
		return nil
	}
	var out []AcceptedEntry
	for slot, rec := range all {
		if slot < from || slot > to {
			continue
		}
		if rec.AcceptedNum.IsZero() {
			continue
		}
		out = append(out, AcceptedEntry{
			Slot:        slot,
			AcceptedNum: rec.AcceptedNum,
			AcceptedVal: rec.AcceptedVal,
		})
	}
	return out
}

// ID returns this Acceptor's identity.
func (a *Acceptor) ID() string { return a.id }
