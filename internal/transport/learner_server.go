package transport

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

type readRequest struct {
	Key              string                `json:"key"`
	ConsistencyLevel paxos.ConsistencyLevel `json:"consistencyLevel"`
	ClientID         string                `json:"clientId,omitempty"`
	MinSlot          int64                 `json:"minSlot,omitempty"`
}

type readResponse struct {
	Value []byte `json:"value,omitempty"`
	Slot  int64  `json:"slot"`
}

// NewLearnerServer builds the HTTP surface for a Learner: POST /notify,
// POST /read, POST /sync, GET /status.
func NewLearnerServer(l *paxos.Learner, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := baseRouter()

	r.Post("/notify", func(w http.ResponseWriter, req *http.Request) {
		var msg paxos.AcceptNotification
		if err := decodeJSON(req, &msg); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		l.HandleAcceptNotification(msg)
		writeJSON(w, http.StatusOK, nil)
	})

	r.Post("/read", func(w http.ResponseWriter, req *http.Request) {
		var in readRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		value, slot, err := l.Read(req.Context(), in.Key, in.ClientID, in.ConsistencyLevel, in.MinSlot)
		if err != nil {
			writeError(w, log, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, readResponse{Value: value, Slot: slot})
	})

	r.Post("/sync", func(w http.ResponseWriter, req *http.Request) {
		var in paxos.SyncRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, l.Sync(in))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":            l.ID(),
			"committedUpTo": l.CommittedUpTo(),
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
