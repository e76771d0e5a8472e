package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quorum-kv/paxoskv/internal/gateway"
	"github.com/quorum-kv/paxoskv/internal/notify"
	"github.com/quorum-kv/paxoskv/internal/paxos"
)

func newTestGatewayServer(t *testing.T) (*httptest.Server, *paxos.Learner, func()) {
	proposerSrv, p := newTestProposerServer(t)
	if err := proposerRunForLeader(t, p); err != nil {
		t.Fatalf("runForLeader: %v", err)
	}

	learner := paxos.NewLearner(paxos.LearnerConfig{ID: "l1", Quorum: 1})
	learnerSrv := httptest.NewServer(NewLearnerServer(learner, nil))

	g := gateway.New(gateway.Config{
		ID:         "gw1",
		Proposers:  []string{proposerSrv.URL},
		Learners:   []string{learnerSrv.URL},
		RPCTimeout: time.Second,
	})
	gwSrv := httptest.NewServer(NewGatewayServer(g, nil))

	cleanup := func() {
		gwSrv.Close()
		learnerSrv.Close()
		proposerSrv.Close()
	}
	return gwSrv, learner, cleanup
}

func TestGatewayServerWrite(t *testing.T) {
	srv, _, cleanup := newTestGatewayServer(t)
	defer cleanup()

	body, _ := json.Marshal(writeRequest{Key: "k", Value: []byte("v"), ClientID: "c1"})
	resp, err := http.Post(srv.URL+"/write", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Slot < 1 {
		t.Fatalf("expected a positive slot, got %d", out.Slot)
	}
}

func TestGatewayServerReadEventual(t *testing.T) {
	srv, learner, cleanup := newTestGatewayServer(t)
	defer cleanup()

	learner.HandleAcceptNotification(paxos.AcceptNotification{
		Slot:           1,
		AcceptorID:     "a1",
		ProposalNumber: paxos.ProposalNumber{Round: 1, ProposerID: "p1"},
		Value:          paxos.Command{Kind: paxos.CommandWrite, Key: "k", Value: []byte("v")},
	})

	body, _ := json.Marshal(gatewayReadRequest{Key: "k", ConsistencyLevel: paxos.ConsistencyEventual})
	resp, err := http.Post(srv.URL+"/read", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	defer resp.Body.Close()
	var out gatewayReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.Value) != "v" {
		t.Fatalf("unexpected read result: %+v", out)
	}
}

func TestGatewayServerSubscribeStreamsEvents(t *testing.T) {
	srv, _, cleanup := newTestGatewayServer(t)
	defer cleanup()

	body, _ := json.Marshal(subscribeRequest{Pattern: "k"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/subscribe", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		t.Fatalf("expected a subscription ack line")
	}
	var ack subscribeResponse
	if err := json.Unmarshal(scanner.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.SubscriptionID == "" {
		t.Fatalf("expected a non-empty subscription id")
	}

	writeBody, _ := json.Marshal(writeRequest{Key: "k", Value: []byte("v"), ClientID: "c1"})
	wresp, err := http.Post(srv.URL+"/write", "application/json", bytes.NewReader(writeBody))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	wresp.Body.Close()

	if !scanner.Scan() {
		t.Fatalf("expected a streamed event after write")
	}
	var evt notify.Event
	if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Key != "k" || string(evt.Value) != "v" {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestGatewayServerStatusAndHealth(t *testing.T) {
	srv, _, cleanup := newTestGatewayServer(t)
	defer cleanup()

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
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp2.StatusCode)
	}
}
