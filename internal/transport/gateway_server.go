package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/gateway"
	"github.com/quorum-kv/paxoskv/internal/paxos"
)

type writeRequest struct {
	Key      string `json:"key"`
	Value    []byte `json:"value"`
	ClientID string `json:"clientId,omitempty"`
}

type writeResponse struct {
	Slot int64 `json:"slot"`
}

type gatewayReadRequest struct {
	Key              string                 `json:"key"`
	ConsistencyLevel paxos.ConsistencyLevel `json:"consistencyLevel,omitempty"`
	ClientID         string                 `json:"clientId,omitempty"`
}

type gatewayReadResponse struct {
	Value []byte `json:"value,omitempty"`
	Slot  int64  `json:"slot"`
}

type subscribeRequest struct {
	Pattern string `json:"pattern"`
}

type subscribeResponse struct {
	SubscriptionID string `json:"subscriptionId"`
}

type unsubscribeRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// NewGatewayServer builds the HTTP surface for a client gateway: POST
// /write, POST /read, POST /subscribe, POST /unsubscribe, GET /status,
// GET /health. /subscribe streams newline-delimited JSON notify.Event
// values for as long as the client keeps the connection open.
func NewGatewayServer(g *gateway.Gateway, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := baseRouter()

	r.Post("/write", func(w http.ResponseWriter, req *http.Request) {
		var in writeRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		slot, err := g.Write(req.Context(), in.Key, in.Value, in.ClientID)
		if err != nil {
			writeError(w, log, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, writeResponse{Slot: slot})
	})

	r.Post("/read", func(w http.ResponseWriter, req *http.Request) {
		var in gatewayReadRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		value, slot, err := g.Read(req.Context(), in.Key, in.ClientID, in.ConsistencyLevel)
		if err != nil {
			writeError(w, log, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, gatewayReadResponse{Value: value, Slot: slot})
	})

	r.Post("/subscribe", func(w http.ResponseWriter, req *http.Request) {
		var in subscribeRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		id, events := g.Subscribe(in.Pattern)

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeJSON(w, http.StatusOK, subscribeResponse{SubscriptionID: id})
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		_ = enc.Encode(subscribeResponse{SubscriptionID: id})
		flusher.Flush()
		for {
			select {
			case evt, open := <-events:
				if !open {
					return
				}
				if err := enc.Encode(evt); err != nil {
					g.Unsubscribe(id)
					return
				}
				flusher.Flush()
			case <-req.Context().Done():
				g.Unsubscribe(id)
				return
			}
		}
	})

	r.Post("/unsubscribe", func(w http.ResponseWriter, req *http.Request) {
		var in unsubscribeRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		g.Unsubscribe(in.SubscriptionID)
		writeJSON(w, http.StatusOK, nil)
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": g.Hub().Count()})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
