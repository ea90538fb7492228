package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/domain"
)

var statusByKind = map[domain.Kind]int{
	domain.KindValidation:     http.StatusBadRequest,
	domain.KindAuthentication: http.StatusUnauthorized,
	domain.KindAuthorization:  http.StatusForbidden,
	domain.KindNotFound:       http.StatusNotFound,
	domain.KindInvalidState:   http.StatusConflict,
	domain.KindConflict:       http.StatusConflict,
	domain.KindBusy:           http.StatusServiceUnavailable,
	domain.KindInternal:       http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {kind, message}. Internal errors are logged
// and replaced by a generic message.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := domain.KindOf(err)
	body := domain.Error{Kind: kind, Message: "internal error"}
	var de *domain.Error
	if kind == domain.KindInternal {
		log.Error("request failed", zap.Error(err))
	} else if errors.As(err, &de) {
		body.Message = de.Message
	}
	if domain.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusByKind[kind], body)
}
