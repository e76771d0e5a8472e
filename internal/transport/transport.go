// Package transport builds each role's HTTP/JSON surface, per spec.md
// §6's endpoint table. Every server is a chi.Router wrapping the same
// middleware stack (RequestID, Recoverer) the teacher's transport.go
// sketch called for in the abstract ("the transport layer handles
// serialization") — concretized here as real chi routes instead of an
// in-memory message-passing toy.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/quorum-kv/paxoskv/internal/paxos"
)

func baseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, log *zap.Logger, status int, err error) {
	log.Debug("transport: request failed", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// errStatus maps a domain error to the HTTP status spec.md §7's
// propagation table assigns it.
func errStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isNotLeader(err), err == paxos.ErrStaleEpoch:
		return http.StatusConflict
	case err == paxos.ErrNoQuorum, err == paxos.ErrBackpressure:
		return http.StatusServiceUnavailable
	case err == paxos.ErrReadUnavailable:
		return http.StatusGatewayTimeout
	case err == paxos.ErrDurabilityFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func isNotLeader(err error) bool {
	_, ok := err.(*paxos.NotLeaderError)
	return ok || err == paxos.ErrNotLeader
}
