package transport

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

type proposeRequest struct {
	Command paxos.Command `json:"command"`
}

type proposeResponse struct {
	Slot    int64         `json:"slot"`
	Command paxos.Command `json:"command"`
}

// NewProposerServer builds the HTTP surface for a Proposer: POST
// /propose, POST /heartbeat, GET /status.
func NewProposerServer(p *paxos.Proposer, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := baseRouter()

	r.Post("/propose", func(w http.ResponseWriter, req *http.Request) {
		var in proposeRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		slot, bound, err := p.Propose(req.Context(), in.Command)
		if err != nil {
			if nle, ok := err.(*paxos.NotLeaderError); ok {
				writeJSON(w, http.StatusConflict, map[string]string{"leader": nle.Leader, "leaderAddr": nle.LeaderAddr})
				return
			}
			writeError(w, log, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, proposeResponse{Slot: slot, Command: bound})
	})

	r.Post("/heartbeat", func(w http.ResponseWriter, req *http.Request) {
		var hb paxos.Heartbeat
		if err := decodeJSON(req, &hb); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		p.HandleHeartbeat(hb)
		writeJSON(w, http.StatusOK, map[string]bool{"ack": true})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		s := p.Status()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"role":     s.Role,
			"epoch":    s.Epoch,
			"nextSlot": s.NextSlot,
			"leader":   s.Leader,
		})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
