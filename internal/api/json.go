package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"carrierplan/internal/auction"
	"carrierplan/internal/opt"
	"carrierplan/internal/planner"
	"carrierplan/internal/store"
)

// maxBody bounds request bodies; instances are a few thousand tasks at most.
const maxBody = 8 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

// writeError maps domain errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	var inf *opt.InfeasibleTaskError
	switch {
	case errors.As(err, &inf):
		writeJSON(w, http.StatusUnprocessableEntity, Problem{
			Type: "about:blank", Title: "Infeasible task", Status: http.StatusUnprocessableEntity,
			Detail: inf.Error(), Instance: r.URL.Path, TaskID: inf.TaskID,
		})
	case errors.Is(err, planner.ErrInvalidRequest):
		writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, auction.ErrUnknownAuction):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, auction.ErrNoPendingBid), errors.Is(err, auction.ErrTaskMismatch), errors.Is(err, auction.ErrDuplicateTask):
		writeProblem(w, http.StatusConflict, title, err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, title, fmt.Sprint(err), r.URL.Path)
	}
}
