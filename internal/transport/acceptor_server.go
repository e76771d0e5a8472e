package transport

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

var errBadRange = errors.New("transport: from/to must be integers")

// NewAcceptorServer builds the HTTP surface for an Acceptor: POST
// /prepare, POST /accept, GET /accepted, GET /health, GET /status.
func NewAcceptorServer(a *paxos.Acceptor, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := baseRouter()

	r.Post("/prepare", func(w http.ResponseWriter, req *http.Request) {
		var in paxos.PrepareRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, a.HandlePrepare(in))
	})

	r.Post("/accept", func(w http.ResponseWriter, req *http.Request) {
		var in paxos.AcceptRequest
		if err := decodeJSON(req, &in); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, a.HandleAccept(in))
	})

	r.Get("/accepted", func(w http.ResponseWriter, req *http.Request) {
		from, err1 := strconv.ParseInt(req.URL.Query().Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(req.URL.Query().Get("to"), 10, 64)
		if err1 != nil || err2 != nil {
			writeError(w, log, http.StatusBadRequest, errBadRange)
			return
		}
		writeJSON(w, http.StatusOK, a.QueryAccepted(from, to))
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"id": a.ID(), "role": "acceptor"})
	})

	return r
}
