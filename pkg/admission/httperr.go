package admission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hirekruit/interviewkit/pkg/core"
)

// Envelope is the error response body.
type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError maps an error to its canonical form and HTTP status.
func FromError(err error) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:    core.ErrConnection,
			Message: "request timeout",
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:    core.ErrConnection,
			Message: "request cancelled",
			Code:    "cancelled",
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		return coreErr, statusFromType(coreErr.Type)
	}

	// Unknown errors: do not leak details.
	return &core.Error{
		Type:    core.ErrConnection,
		Message: "internal error",
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrAdmission:
		return http.StatusBadGateway
	case core.ErrConnection, core.ErrAgent, core.ErrBridge:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	coreErr, status := FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(Envelope{Error: coreErr}); encodeErr != nil {
		logger.Debug("write error response", "err", encodeErr)
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response", "err", err)
	}
}
