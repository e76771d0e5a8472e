package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

// notifyClient is the subset of internal/rpc's Client this package
// depends on, kept narrow so tests can stub it without an HTTP server.
type notifyClient interface {
	Notify(ctx context.Context, addr string, msg paxos.AcceptNotification) error
}

// RemoteBroadcaster fans an AcceptNotification out to every configured
// Learner over HTTP. Delivery is fire-and-forget, matching spec.md §9's
// "don't block Send when destination is down": a Learner that misses
// the broadcast catches up via /sync or the Acceptor's /accepted
// fallback, so the Acceptor's reply to the Proposer never waits on this.
type RemoteBroadcaster struct {
	client   notifyClient
	learners []string
	timeout  time.Duration
	log      *zap.Logger
}

// NewRemoteBroadcaster builds a broadcaster that fans out to the given
// Learner addresses.
func NewRemoteBroadcaster(client notifyClient, learners []string, timeout time.Duration, log *zap.Logger) *RemoteBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteBroadcaster{client: client, learners: learners, timeout: timeout, log: log}
}

func (b *RemoteBroadcaster) BroadcastAccepted(msg paxos.AcceptNotification) {
	for _, addr := range b.learners {
		addr := addr
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()
			if err := b.client.Notify(ctx, addr, msg); err != nil {
				b.log.Debug("transport: notify failed", zap.String("learner", addr), zap.Error(err))
			}
		}()
	}
}
