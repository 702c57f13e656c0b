package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"edge-console/internal/domain"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody mirrors the console's error contract: "error" classifies
// whether the caller can correct the request, "message" says what went
// wrong.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps the domain taxonomy onto HTTP statuses. Validation
// and duplicate failures are client-correctable (400), missing
// references are 404, everything else is a server/store failure (500).
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation Error", Message: vErr.Error()})
	case errors.Is(err, domain.ErrNodeExists),
		errors.Is(err, domain.ErrDeviceExists),
		errors.Is(err, domain.ErrAlreadyAttached):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation Error", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not Found", Message: err.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Server Error", Message: err.Error()})
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	w.WriteHeader(http.StatusMethodNotAllowed)
}
