package approval

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// decisionBody is the POST /api/approvals/{id}/decision request shape from
// spec.md section 6.
type decisionBody struct {
	Status string `json:"status"` // "granted" or "denied"
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// Routes mounts the approval HTTP surface onto r: GET /api/approvals (with
// an optional ?status= filter) and POST /api/approvals/{id}/decision,
// dispatching decisions through gate.Decide so they serialize with any
// other decision entry point.
func Routes(r chi.Router, gate *Gate, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	r.Get("/api/approvals", func(w http.ResponseWriter, req *http.Request) {
		status := Status(req.URL.Query().Get("status"))
		list := gate.queue.ListByStatus(status)
		writeJSON(w, http.StatusOK, list)
	})

	r.Post("/api/approvals/{id}/decision", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")

		var body decisionBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid decision body: "+err.Error(), http.StatusBadRequest)
			return
		}

		var approve bool
		switch Status(body.Status) {
		case StatusGranted:
			approve = true
		case StatusDenied:
			approve = false
		default:
			http.Error(w, "status must be \"granted\" or \"denied\"", http.StatusBadRequest)
			return
		}

		resolved, err := gate.Decide(id, approve, body.Actor, body.Reason)
		if err != nil {
			log.Warn("approval: http decision failed", zap.String("approval_id", id), zap.Error(err))
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, resolved)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
