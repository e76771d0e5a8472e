// Package rpc implements the Proposer and Learner's HTTP client side,
// over the wire shapes in internal/paxos/message.go. Every call except
// Propose retries with jittered exponential backoff (20ms initial, 1s
// cap) within the caller's context deadline, so a slow or partitioned
// peer degrades the calling quorum fan-out's latency instead of hanging
// it. Propose makes a single attempt; the gateway does its own retrying.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

// Client is the shared HTTP transport for every RPC interface in
// internal/paxos/rpc.go — AcceptorRPC, PeerRPC, LearnerStatusRPC,
// LearnerSyncRPC, and AcceptorQueryRPC are all satisfied by *Client.
type Client struct {
	http *http.Client
}

// NewClient builds an RPC client with the given per-attempt timeout.
func NewClient(attemptTimeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: attemptTimeout}}
}

func backoff(attempt int) time.Duration {
	base := 20 * time.Millisecond
	capped := time.Second
	d := base << attempt
	if d > capped || d <= 0 {
		d = capped
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

// doJSON posts body (if non-nil) to addr+path and decodes the response
// into out, retrying on transport errors and 5xx responses until ctx is
// done.
func (c *Client) doJSON(ctx context.Context, addr, path string, body, out interface{}) error {
	return c.doMethod(ctx, http.MethodPost, addr, path, body, out)
}

func (c *Client) doMethod(ctx context.Context, method, addr, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rpc: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("rpc: %s: %w (last error: %v)", path, ctx.Err(), lastErr)
			}
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, method, addr+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("rpc: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !sleepOrDone(ctx, backoff(attempt)) {
				return fmt.Errorf("rpc: %s: %w", path, lastErr)
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("rpc: %s: server error %d: %s", path, resp.StatusCode, string(data))
			if !sleepOrDone(ctx, backoff(attempt)) {
				return lastErr
			}
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("rpc: %s: client error %d: %s", path, resp.StatusCode, string(data))
		}
		if readErr != nil {
			return fmt.Errorf("rpc: %s: read response: %w", path, readErr)
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("rpc: %s: decode response: %w", path, err)
		}
		return nil
	}
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

func (c *Client) Prepare(ctx context.Context, addr string, req paxos.PrepareRequest) (paxos.PrepareResponse, error) {
	var resp paxos.PrepareResponse
	err := c.doJSON(ctx, addr, "/prepare", req, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, addr string, req paxos.AcceptRequest) (paxos.AcceptResponse, error) {
	var resp paxos.AcceptResponse
	err := c.doJSON(ctx, addr, "/accept", req, &resp)
	return resp, err
}

func (c *Client) Heartbeat(ctx context.Context, addr string, hb paxos.Heartbeat) error {
	return c.doJSON(ctx, addr, "/heartbeat", hb, nil)
}

func (c *Client) Status(ctx context.Context, addr string) (paxos.LearnerStatusInfo, error) {
	var info paxos.LearnerStatusInfo
	err := c.doMethod(ctx, http.MethodGet, addr, "/status", nil, &info)
	return info, err
}

func (c *Client) Sync(ctx context.Context, addr string, req paxos.SyncRequest) ([]paxos.SyncEntry, error) {
	var entries []paxos.SyncEntry
	err := c.doJSON(ctx, addr, "/sync", req, &entries)
	return entries, err
}

// QueryAccepted calls an Acceptor's GET /accepted?from=&to=, the
// catch-up read path a Learner falls back to when no peer Learner's
// /sync can close its gap.
func (c *Client) QueryAccepted(ctx context.Context, addr string, from, to int64) ([]paxos.AcceptedEntry, error) {
	url := fmt.Sprintf("%s/accepted?from=%d&to=%d", addr, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: build request: %w", err)
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !sleepOrDone(ctx, backoff(attempt)) {
				return nil, fmt.Errorf("rpc: /accepted: %w", lastErr)
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("rpc: /accepted: server error %d: %s", resp.StatusCode, string(data))
			if !sleepOrDone(ctx, backoff(attempt)) {
				return nil, lastErr
			}
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("rpc: /accepted: status %d: %s", resp.StatusCode, string(data))
		}
		if readErr != nil {
			return nil, fmt.Errorf("rpc: /accepted: read response: %w", readErr)
		}
		var entries []paxos.AcceptedEntry
		if len(data) > 0 {
			if err := json.Unmarshal(data, &entries); err != nil {
				return nil, fmt.Errorf("rpc: /accepted: decode response: %w", err)
			}
		}
		return entries, nil
	}
}

// Notify delivers an AcceptNotification to a remote Learner, used by the
// Acceptor's broadcaster when the Learner isn't in the same process.
func (c *Client) Notify(ctx context.Context, addr string, msg paxos.AcceptNotification) error {
	return c.doJSON(ctx, addr, "/notify", msg, nil)
}

// ProposeRequest is the body of a Proposer's /propose endpoint, sent by
// the gateway to forward a client command.
type ProposeRequest struct {
	Command paxos.Command `json:"command"`
}

type ProposeResponse struct {
	Slot    int64         `json:"slot"`
	Command paxos.Command `json:"command"`
}

// NotLeaderResponse is what a /propose call returns (HTTP 409) when the
// receiving Proposer is not currently leader.
type NotLeaderResponse struct {
	Leader     string `json:"leader,omitempty"`
	LeaderAddr string `json:"leaderAddr,omitempty"`
}

// Propose forwards cmd to addr's /propose endpoint. A 409 response is
// translated into *paxos.NotLeaderError carrying the leader hint the
// Proposer returned, rather than a generic client error, so the
// gateway's leader cache can act on it directly.
func (c *Client) Propose(ctx context.Context, addr string, cmd paxos.Command) (ProposeResponse, error) {
	payload, err := json.Marshal(ProposeRequest{Command: cmd})
	if err != nil {
		return ProposeResponse{}, fmt.Errorf("rpc: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/propose", bytes.NewReader(payload))
	if err != nil {
		return ProposeResponse{}, fmt.Errorf("rpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ProposeResponse{}, fmt.Errorf("rpc: /propose: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProposeResponse{}, fmt.Errorf("rpc: /propose: read response: %w", err)
	}
	if resp.StatusCode == http.StatusConflict {
		var hint NotLeaderResponse
		_ = json.Unmarshal(data, &hint)
		return ProposeResponse{}, &paxos.NotLeaderError{Leader: hint.Leader, LeaderAddr: hint.LeaderAddr}
	}
	if resp.StatusCode >= 400 {
		return ProposeResponse{}, fmt.Errorf("rpc: /propose: status %d: %s", resp.StatusCode, string(data))
	}
	var out ProposeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return ProposeResponse{}, fmt.Errorf("rpc: /propose: decode response: %w", err)
	}
	return out, nil
}

// ReadRequest/ReadResult mirror a Learner's POST /read wire shape.
type ReadRequest struct {
	Key              string                 `json:"key"`
	ConsistencyLevel paxos.ConsistencyLevel `json:"consistencyLevel"`
	ClientID         string                 `json:"clientId,omitempty"`
	MinSlot          int64                  `json:"minSlot,omitempty"`
}

type ReadResult struct {
	Value []byte `json:"value,omitempty"`
	Slot  int64  `json:"slot"`
}

// Read calls a Learner's POST /read.
func (c *Client) Read(ctx context.Context, addr string, req ReadRequest) (ReadResult, error) {
	var resp ReadResult
	err := c.doJSON(ctx, addr, "/read", req, &resp)
	return resp, err
}

// ProposerStatusInfo mirrors a Proposer's GET /status response.
type ProposerStatusInfo struct {
	Role     string `json:"role"`
	Epoch    int64  `json:"epoch"`
	NextSlot int64  `json:"nextSlot"`
	Leader   string `json:"leader"`
}

// ProposerStatus calls a Proposer's GET /status.
func (c *Client) ProposerStatus(ctx context.Context, addr string) (ProposerStatusInfo, error) {
	var info ProposerStatusInfo
	err := c.doMethod(ctx, http.MethodGet, addr, "/status", nil, &info)
	return info, err
}
