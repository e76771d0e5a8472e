package paxos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// electionSlot is the slot reserved for leader-election ballots; slots
// >= 1 carry client commands.
const electionSlot int64 = 0

// RoundStore persists maxRoundSeen across restarts, so a restarted
// Proposer's next proposal number still beats every round it has ever
// used or observed.
type RoundStore interface {
	SaveMaxRound(round int64) error
	LoadMaxRound() (int64, error)
}

// ProposerConfig bundles a Proposer's static dependencies and cluster
// topology.
type ProposerConfig struct {
	ID        string
	Acceptors []string
	Peers     []string
	// PeerIDs, if given, must align index-for-index with Peers: PeerIDs[i]
	// is the id Peers[i] heartbeats and NACKs under. This is how a
	// NotLeaderError's LeaderAddr gets resolved from the bare id a peer
	// reports as its current leader. Left empty, leader hints carry an id
	// only and callers fall back to trying every known Proposer.
	PeerIDs           []string
	Learners          []string
	Quorum            int
	MaxInflight       int
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
	AcceptorRPC       AcceptorRPC
	PeerRPC           PeerRPC
	LearnerRPC        LearnerStatusRPC
	Rounds            RoundStore
	Logger            *zap.Logger
}

// Proposer drives consensus and, for at most one Proposer per epoch,
// acts as leader, binding client commands to slots.
type Proposer struct {
	id           string
	acceptors    []string
	peers        []string
	peerAddrByID map[string]string
	learners     []string
	quorum       int
	maxInflight  int

	acceptorRPC AcceptorRPC
	peerRPC     PeerRPC
	learnerRPC  LearnerStatusRPC
	rounds      RoundStore

	log *zap.Logger

	heartbeatInterval time.Duration
	leaderTimeout     time.Duration

	mu                sync.Mutex
	role              Role
	leaderEpoch       int64
	currentLeaderID   string
	maxRoundSeen      int64
	nextSlot          int64
	committedUpTo     int64
	phase1Done        bool
	leaderProposalNum ProposalNumber
	freeSlots         []int64
	lastHeartbeat     time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProposer builds a Proposer in the FOLLOWER role, ready for Start.
func NewProposer(cfg ProposerConfig) *Proposer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 16
	}
	peerAddrByID := make(map[string]string, len(cfg.PeerIDs))
	for i, id := range cfg.PeerIDs {
		if i < len(cfg.Peers) && id != "" {
			peerAddrByID[id] = cfg.Peers[i]
		}
	}
	p := &Proposer{
		id:                cfg.ID,
		acceptors:         cfg.Acceptors,
		peers:             cfg.Peers,
		peerAddrByID:      peerAddrByID,
		learners:          cfg.Learners,
		quorum:            cfg.Quorum,
		maxInflight:       maxInflight,
		acceptorRPC:       cfg.AcceptorRPC,
		peerRPC:           cfg.PeerRPC,
		learnerRPC:        cfg.LearnerRPC,
		rounds:            cfg.Rounds,
		log:               log,
		heartbeatInterval: cfg.HeartbeatInterval,
		leaderTimeout:     cfg.LeaderTimeout,
		role:              RoleFollower,
		nextSlot:          1,
	}
	if p.rounds != nil {
		if round, err := p.rounds.LoadMaxRound(); err == nil {
			p.maxRoundSeen = round
		}
	}
	return p
}

// Start launches the election timer, heartbeat sender, and Learner
// progress poller. It returns immediately.
func (p *Proposer) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	p.stopCh = make(chan struct{})
	p.lastHeartbeat = time.Now()
	p.mu.Unlock()

	p.wg.Add(3)
	go p.electionLoop(ctx)
	go p.heartbeatLoop(ctx)
	go p.progressLoop(ctx)
}

// Stop halts all background loops.
func (p *Proposer) Stop() {
	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.stopCh = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// Status is the information GET /status exposes for a Proposer.
type Status struct {
	Role     string
	Epoch    int64
	NextSlot int64
	Leader   string
}

func (p *Proposer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Role:     p.role.String(),
		Epoch:    p.leaderEpoch,
		NextSlot: p.nextSlot,
		Leader:   p.currentLeaderID,
	}
}

// nextProposal returns a fresh, globally-distinguishable proposal number
// and persists maxRoundSeen before returning it, since a reader
// elsewhere (including this same Proposer after a crash) may depend on
// it to reject stale rounds.
func (p *Proposer) nextProposal() ProposalNumber {
	p.mu.Lock()
	p.maxRoundSeen++
	round := p.maxRoundSeen
	p.mu.Unlock()
	if p.rounds != nil {
		if err := p.rounds.SaveMaxRound(round); err != nil {
			p.log.Error("proposer: persist maxRoundSeen failed", zap.Error(err))
		}
	}
	return ProposalNumber{Round: round, ProposerID: p.id}
}

// observeRound folds a round seen in any Acceptor NACK into
// maxRoundSeen, so this Proposer's next attempt beats it.
func (p *Proposer) observeRound(round int64) {
	p.mu.Lock()
	changed := round > p.maxRoundSeen
	if changed {
		p.maxRoundSeen = round
	}
	p.mu.Unlock()
	if changed && p.rounds != nil {
		if err := p.rounds.SaveMaxRound(round); err != nil {
			p.log.Error("proposer: persist maxRoundSeen failed", zap.Error(err))
		}
	}
}

// electionLoop promotes this Proposer to CANDIDATE and attempts to win
// leadership once LEADER_TIMEOUT has elapsed with no valid heartbeat.
func (p *Proposer) electionLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := p.leaderTimeout / 4
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			isLeader := p.role == RoleLeader
			stale := time.Since(p.lastHeartbeat) > p.leaderTimeout
			p.mu.Unlock()
			if isLeader || !stale {
				continue
			}
			jitter := time.Duration(rand.Int63n(int64(interval)))
			select {
			case <-time.After(jitter):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			if err := p.runForLeader(ctx); err != nil {
				p.log.Debug("proposer: election attempt failed", zap.Error(err))
			}
		}
	}
}

// heartbeatLoop sends a heartbeat to every peer Proposer on
// HEARTBEAT_INTERVAL while this Proposer is LEADER.
func (p *Proposer) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	if p.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			isLeader := p.role == RoleLeader
			epoch := p.leaderEpoch
			committed := p.committedUpTo
			p.mu.Unlock()
			if !isLeader {
				continue
			}
			hb := Heartbeat{ProposerID: p.id, Epoch: epoch, CommittedUpTo: committed}
			for _, addr := range p.peers {
				addr := addr
				go func() {
					hbCtx, cancel := context.WithTimeout(ctx, p.heartbeatInterval)
					defer cancel()
					if p.peerRPC == nil {
						return
					}
					if err := p.peerRPC.Heartbeat(hbCtx, addr, hb); err != nil {
						p.log.Debug("proposer: heartbeat send failed", zap.String("peer", addr), zap.Error(err))
					}
				}()
			}
		}
	}
}

// progressLoop samples each Learner's committedUpTo, so a new leader's
// recovery window and this Proposer's heartbeats reflect progress made
// by the previous leader even before this one has bound any slots of
// its own.
func (p *Proposer) progressLoop(ctx context.Context) {
	defer p.wg.Done()
	if p.learnerRPC == nil || len(p.learners) == 0 || p.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, addr := range p.learners {
				statusCtx, cancel := context.WithTimeout(ctx, p.heartbeatInterval)
				info, err := p.learnerRPC.Status(statusCtx, addr)
				cancel()
				if err != nil {
					continue
				}
				p.mu.Lock()
				if info.CommittedUpTo > p.committedUpTo {
					p.committedUpTo = info.CommittedUpTo
				}
				p.mu.Unlock()
			}
		}
	}
}

// HandleHeartbeat folds an incoming leader heartbeat into this
// Proposer's view: reset the election timer on a heartbeat whose epoch
// is current or newer, and step down if it names a different, newer
// leader.
func (p *Proposer) HandleHeartbeat(hb Heartbeat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hb.Epoch < p.leaderEpoch {
		return
	}
	p.lastHeartbeat = time.Now()
	if hb.CommittedUpTo > p.committedUpTo {
		p.committedUpTo = hb.CommittedUpTo
	}
	if hb.Epoch > p.leaderEpoch || (hb.Epoch == p.leaderEpoch && hb.ProposerID != p.id) {
		p.leaderEpoch = hb.Epoch
		p.currentLeaderID = hb.ProposerID
		if p.role == RoleLeader && hb.ProposerID != p.id {
			p.demoteLocked()
		} else {
			p.role = RoleFollower
		}
	}
}

// leaderAddr resolves a peer id (as reported in currentLeaderID) to its
// dialable address, or "" if id is empty or unknown.
func (p *Proposer) leaderAddr(id string) string {
	return p.peerAddrByID[id]
}

func (p *Proposer) demoteLocked() {
	p.role = RoleFollower
	p.phase1Done = false
	p.freeSlots = nil
}

// runForLeader runs Phase 1 and Phase 2 on the election slot with a
// CommandLeader ballot for the next epoch. If it wins with its own
// ballot, it recovers any slots a previous leader might have left
// partially accepted before declaring itself ready to bind new slots.
func (p *Proposer) runForLeader(ctx context.Context) error {
	p.mu.Lock()
	p.role = RoleCandidate
	nextEpoch := p.leaderEpoch + 1
	p.mu.Unlock()

	ballot := Command{Kind: CommandLeader, LeaderID: p.id, Epoch: nextEpoch}
	bound, electN, won, err := p.runInstance(ctx, electionSlot, ballot)
	if err != nil {
		return err
	}
	if !won || bound.LeaderID != p.id {
		p.mu.Lock()
		if p.role == RoleCandidate {
			p.role = RoleFollower
		}
		p.mu.Unlock()
		return ErrRejected
	}

	p.mu.Lock()
	p.role = RoleLeader
	p.leaderEpoch = nextEpoch
	p.currentLeaderID = p.id
	p.lastHeartbeat = time.Now()
	p.phase1Done = false
	p.freeSlots = nil
	recoverFrom := p.committedUpTo + 1
	if recoverFrom < 1 {
		recoverFrom = 1
	}
	window := p.maxInflight
	p.mu.Unlock()

	p.log.Info("proposer: won election",
		zap.Int64("epoch", nextEpoch), zap.Int64("recoverFrom", recoverFrom))

	leaderN := electN
	p.reconcileWindow(ctx, leaderN, recoverFrom, recoverFrom+int64(window)-1)

	p.mu.Lock()
	if p.role == RoleLeader && p.leaderEpoch == nextEpoch {
		p.leaderProposalNum = leaderN
		p.phase1Done = true
		if p.nextSlot <= recoverFrom+int64(window)-1 {
			p.nextSlot = recoverFrom + int64(window)
		}
	}
	p.mu.Unlock()
	return nil
}

// reconcileWindow runs Phase 1 with n across [lo, hi]. Any slot that
// comes back with a pre-existing accepted value has Phase 2 completed
// with that value, to preserve whatever might already be chosen. Slots
// that come back empty are inserted into freeSlots, kept in ascending
// slot order, for Phase-2-only binding by the next client commands.
func (p *Proposer) reconcileWindow(ctx context.Context, n ProposalNumber, lo, hi int64) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for slot := lo; slot <= hi; slot++ {
		slot := slot
		g.Go(func() error {
			prior, ok, err := p.runPhase1(gctx, slot, n)
			if err != nil {
				return nil
			}
			if ok {
				if err := p.runPhase2(gctx, slot, n, prior); err != nil {
					p.log.Warn("proposer: reconcile phase2 failed", zap.Int64("slot", slot), zap.Error(err))
				} else {
					p.mu.Lock()
					if slot > p.committedUpTo {
						p.committedUpTo = slot
					}
					p.mu.Unlock()
				}
				return nil
			}
			mu.Lock()
			p.mu.Lock()
			i := len(p.freeSlots)
			for i > 0 && p.freeSlots[i-1] > slot {
				i--
			}
			p.freeSlots = append(p.freeSlots, 0)
			copy(p.freeSlots[i+1:], p.freeSlots[i:])
			p.freeSlots[i] = slot
			p.mu.Unlock()
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// Propose binds cmd to a slot and drives it through consensus, blocking
// until it is committed. It returns the slot the command landed on and
// the command actually committed there, which always equals cmd: if
// Phase 1 on a candidate slot reveals a prior leader's already-accepted
// value, that value is preserved at that slot (per the value-adoption
// rule) and cmd is retried on a fresh slot rather than reported as
// committed in the wrong place.
func (p *Proposer) Propose(ctx context.Context, cmd Command) (int64, Command, error) {
	for attempt := 0; ; attempt++ {
		slot, n, phase1Done, epoch, err := p.claimSlot()
		if err != nil {
			return 0, Command{}, err
		}

		var bound Command
		if phase1Done {
			bound = cmd
			err = p.runPhase2(ctx, slot, n, cmd)
		} else {
			var won bool
			bound, _, won, err = p.runInstance(ctx, slot, cmd)
			if err == nil && !won {
				p.log.Debug("proposer: slot carried a prior leader's value, retrying command on a fresh slot",
					zap.Int64("slot", slot))
				continue
			}
		}
		if err == nil {
			p.mu.Lock()
			stillLeader := p.role == RoleLeader && p.leaderEpoch == epoch
			// This leader drove slot to a quorum accept itself, so it
			// knows that much is committed without waiting on
			// progressLoop's next Learner poll; advancing the
			// high-water mark here keeps claimSlot's backpressure check
			// from lagging behind this leader's own write throughput.
			if slot > p.committedUpTo {
				p.committedUpTo = slot
			}
			p.mu.Unlock()
			if !stillLeader {
				return 0, Command{}, ErrStaleEpoch
			}
			return slot, bound, nil
		}
		if errors.Is(err, ErrRejected) {
			if !sleepOrDone(ctx, backoff(attempt)) {
				return 0, Command{}, ctx.Err()
			}
			continue
		}
		return 0, Command{}, err
	}
}

// claimSlot hands the caller a slot to bind, or ErrBackpressure once the
// number of slots claimed but not yet committed reaches maxInflight, per
// spec.md §5's inflight window.
func (p *Proposer) claimSlot() (slot int64, n ProposalNumber, phase1Done bool, epoch int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.role != RoleLeader {
		leader := p.currentLeaderID
		return 0, ProposalNumber{}, false, 0, &NotLeaderError{Leader: leader, LeaderAddr: p.leaderAddr(leader)}
	}
	if len(p.freeSlots) > 0 {
		slot = p.freeSlots[0]
		p.freeSlots = p.freeSlots[1:]
		return slot, p.leaderProposalNum, p.phase1Done, p.leaderEpoch, nil
	}
	if p.nextSlot-1-p.committedUpTo >= int64(p.maxInflight) {
		return 0, ProposalNumber{}, false, 0, ErrBackpressure
	}
	slot = p.nextSlot
	p.nextSlot++
	return slot, p.leaderProposalNum, p.phase1Done, p.leaderEpoch, nil
}

// runInstance drives slot through a full Phase 1 with a fresh proposal
// number, then Phase 2, honoring the value-adoption rule: if Phase 1
// reveals a higher-numbered prior accept, that value is bound instead
// of cmd. won reports whether cmd itself (rather than an adopted prior
// value) is what got bound; n is the proposal number that won.
func (p *Proposer) runInstance(ctx context.Context, slot int64, cmd Command) (value Command, n ProposalNumber, won bool, err error) {
	n = p.nextProposal()
	prior, hasPrior, err := p.runPhase1(ctx, slot, n)
	if err != nil {
		return Command{}, n, false, err
	}
	value = cmd
	if hasPrior {
		value = prior
	}
	if err := p.runPhase2(ctx, slot, n, value); err != nil {
		return Command{}, n, false, err
	}
	return value, n, !hasPrior || prior.Equal(cmd), nil
}

// runPhase1 broadcasts prepare(slot, n) and waits for a quorum of
// promises, returning the highest-numbered previously-accepted value (if
// any) among them.
func (p *Proposer) runPhase1(ctx context.Context, slot int64, n ProposalNumber) (Command, bool, error) {
	type reply struct{ resp PrepareResponse }
	replies := make(chan reply, len(p.acceptors))
	for _, addr := range p.acceptors {
		addr := addr
		go func() {
			resp, err := p.acceptorRPC.Prepare(ctx, addr, PrepareRequest{
				Envelope:       Envelope{From: p.id, Epoch: p.currentEpoch()},
				Slot:           slot,
				ProposalNumber: n,
			})
			if err != nil {
				replies <- reply{}
				return
			}
			replies <- reply{resp: resp}
		}()
	}

	promises := 0
	var highest ProposalNumber
	var highestVal Command
	hasPrior := false
	for i := 0; i < len(p.acceptors); i++ {
		select {
		case <-ctx.Done():
			return Command{}, false, ctx.Err()
		case r := <-replies:
			if r.resp.Status == "" {
				continue
			}
			if r.resp.Status == "nack" {
				p.observeRound(r.resp.Promised.Round)
				continue
			}
			promises++
			if r.resp.AcceptedVal != nil && r.resp.AcceptedNum.GreaterThan(highest) {
				highest = r.resp.AcceptedNum
				highestVal = *r.resp.AcceptedVal
				hasPrior = true
			}
		}
		if promises >= p.quorum {
			return highestVal, hasPrior, nil
		}
	}
	return Command{}, false, ErrRejected
}

// runPhase2 broadcasts accept(slot, n, v) and waits for a quorum of
// accepted responses.
func (p *Proposer) runPhase2(ctx context.Context, slot int64, n ProposalNumber, value Command) error {
	replies := make(chan AcceptResponse, len(p.acceptors))
	for _, addr := range p.acceptors {
		addr := addr
		go func() {
			resp, err := p.acceptorRPC.Accept(ctx, addr, AcceptRequest{
				Envelope:       Envelope{From: p.id, Epoch: p.currentEpoch()},
				Slot:           slot,
				ProposalNumber: n,
				Value:          value,
			})
			if err != nil {
				replies <- AcceptResponse{}
				return
			}
			replies <- resp
		}()
	}

	accepted := 0
	for i := 0; i < len(p.acceptors); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-replies:
			if r.Status == "" {
				continue
			}
			if r.Status == "nack" {
				p.observeRound(r.Promised.Round)
				continue
			}
			accepted++
		}
		if accepted >= p.quorum {
			return nil
		}
	}
	return ErrRejected
}

func (p *Proposer) currentEpoch() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaderEpoch
}

// backoff returns a jittered exponential backoff delay: initial 20 ms,
// capped at 1 s.
func backoff(attempt int) time.Duration {
	base := 20 * time.Millisecond
	cap := time.Second
	d := base << attempt
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// NotLeaderError is returned by Propose when this Proposer is not
// currently LEADER. Leader is the best-known current leader id, which
// may be empty if unknown; LeaderAddr is that id resolved to a dialable
// address when this Proposer's PeerIDs config makes that possible, also
// empty if unknown.
type NotLeaderError struct {
	Leader     string
	LeaderAddr string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == "" {
		return "paxos: not leader (leader unknown)"
	}
	return "paxos: not leader (leader is " + e.Leader + ")"
}

func (e *NotLeaderError) Is(target error) bool {
	return target == ErrNotLeader
}
