package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

func TestClientPrepareRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req paxos.PrepareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(paxos.PrepareResponse{Status: "promise", Slot: req.Slot, From: "a1"})
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	resp, err := c.Prepare(context.Background(), srv.URL, paxos.PrepareRequest{Slot: 1, ProposalNumber: paxos.ProposalNumber{Round: 1, ProposerID: "p1"}})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if resp.Status != "promise" || resp.Slot != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(paxos.AcceptResponse{Status: "accepted", Slot: 1, From: "a1"})
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	resp, err := c.Accept(context.Background(), srv.URL, paxos.AcceptRequest{Slot: 1})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if resp.Status != "accepted" {
		t.Fatalf("expected accepted, got %s", resp.Status)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestClientProposeTranslates409ToNotLeaderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(NotLeaderResponse{Leader: "http://other:7002"})
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Propose(context.Background(), srv.URL, paxos.Command{Kind: paxos.CommandWrite})
	if err == nil {
		t.Fatalf("expected an error")
	}
	nle, ok := err.(*paxos.NotLeaderError)
	if !ok {
		t.Fatalf("expected *paxos.NotLeaderError, got %T: %v", err, err)
	}
	if nle.Leader != "http://other:7002" {
		t.Fatalf("expected leader hint to be forwarded, got %q", nle.Leader)
	}
}

func TestClientStatusUsesGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(paxos.LearnerStatusInfo{CommittedUpTo: 9})
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	info, err := c.Status(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.CommittedUpTo != 9 {
		t.Fatalf("expected committedUpTo=9, got %d", info.CommittedUpTo)
	}
}

func TestClientQueryAcceptedBuildsQueryString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") != "1" || r.URL.Query().Get("to") != "5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		cmd := paxos.Command{Kind: paxos.CommandWrite, Key: "k"}
		json.NewEncoder(w).Encode([]paxos.AcceptedEntry{{Slot: 2, AcceptedVal: &cmd}})
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	entries, err := c.QueryAccepted(context.Background(), srv.URL, 1, 5)
	if err != nil {
		t.Fatalf("query accepted: %v", err)
	}
	if len(entries) != 1 || entries[0].Slot != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
