package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quorum-kv/paxoskv/internal/paxos"
	"github.com/quorum-kv/paxoskv/internal/storage"
)

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastAccepted(paxos.AcceptNotification) {}

func newTestAcceptorServer() *httptest.Server {
	a := paxos.NewAcceptor("a1", storage.NewMemoryStorage(), nopBroadcaster{}, nil)
	return httptest.NewServer(NewAcceptorServer(a, nil))
}

func TestAcceptorServerPrepareAndAccept(t *testing.T) {
	srv := newTestAcceptorServer()
	defer srv.Close()

	prepareBody, _ := json.Marshal(paxos.PrepareRequest{
		Slot:           1,
		ProposalNumber: paxos.ProposalNumber{Round: 1, ProposerID: "p1"},
	})
	resp, err := http.Post(srv.URL+"/prepare", "application/json", bytes.NewReader(prepareBody))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	var pr paxos.PrepareResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if pr.Status != "promise" {
		t.Fatalf("expected promise, got %+v", pr)
	}

	acceptBody, _ := json.Marshal(paxos.AcceptRequest{
		Slot:           1,
		ProposalNumber: paxos.ProposalNumber{Round: 1, ProposerID: "p1"},
		Value:          paxos.Command{Kind: paxos.CommandWrite, Key: "k", Value: []byte("v")},
	})
	resp2, err := http.Post(srv.URL+"/accept", "application/json", bytes.NewReader(acceptBody))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	var ar paxos.AcceptResponse
	if err := json.NewDecoder(resp2.Body).Decode(&ar); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp2.Body.Close()
	if ar.Status != "accepted" {
		t.Fatalf("expected accepted, got %+v", ar)
	}
}

func TestAcceptorServerAcceptedQuery(t *testing.T) {
	srv := newTestAcceptorServer()
	defer srv.Close()

	acceptBody, _ := json.Marshal(paxos.AcceptRequest{
		Slot:           3,
		ProposalNumber: paxos.ProposalNumber{Round: 1, ProposerID: "p1"},
		Value:          paxos.Command{Kind: paxos.CommandWrite, Key: "k", Value: []byte("v")},
	})
	resp, err := http.Post(srv.URL+"/accept", "application/json", bytes.NewReader(acceptBody))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	resp.Body.Close()

	resp2, err := http.Get(srv.URL + "/accepted?from=1&to=5")
	if err != nil {
		t.Fatalf("get accepted: %v", err)
	}
	defer resp2.Body.Close()
	var entries []paxos.AcceptedEntry
	if err := json.NewDecoder(resp2.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Slot != 3 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestAcceptorServerAcceptedQueryRejectsBadRange(t *testing.T) {
	srv := newTestAcceptorServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/accepted?from=x&to=5")
	if err != nil {
		t.Fatalf("get accepted: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAcceptorServerHealthAndStatus(t *testing.T) {
	srv := newTestAcceptorServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp2.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "a1" || body["role"] != "acceptor" {
		t.Fatalf("unexpected status body: %+v", body)
	}
}
