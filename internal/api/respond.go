package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/engine"
	"github.com/tatianab/terranaut/internal/fieldcheck"
	"github.com/tatianab/terranaut/internal/models"
	"github.com/tatianab/terranaut/internal/pipeline"
	"github.com/tatianab/terranaut/internal/store"
)

// maxBody caps request bodies.
const maxBody = 4 << 20

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, advisor.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, advisor.RateLimitedMessage
	case errors.Is(err, advisor.ErrPaymentRequired):
		status, msg = http.StatusPaymentRequired, advisor.PaymentRequiredMessage
	case errors.Is(err, engine.ErrInsufficientBudget), errors.Is(err, engine.ErrSessionComplete):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, engine.ErrUnknownAction),
		errors.Is(err, fieldcheck.ErrBadRequest), errors.Is(err, pipeline.ErrBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logf("error: %v", err)
	}
	writeError(w, status, msg)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %w", errBadRequest, err)
	}
	return nil
}

// parseDate parses a YYYY-MM-DD value. An empty value returns def.
func parseDate(name, v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(models.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", errBadRequest, name)
	}
	return t, nil
}
