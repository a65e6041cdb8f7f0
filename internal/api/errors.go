package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-manager/internal/crawler"
)

const validationMessage = "Request was malformed. Please see 'causes' for further information."

// apiError is the body of every non-2xx response.
type apiError struct {
	Status    int                 `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
	Message   string              `json:"message"`
	Causes    []crawler.Violation `json:"causes,omitempty"`
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, s.logger, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, causes []crawler.Violation) {
	writeJSON(w, s.logger, status, apiError{
		Status:    status,
		Timestamp: s.now(),
		Message:   msg,
		Causes:    causes,
	})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writePlainError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, apiError{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Message:   msg,
	})
}
