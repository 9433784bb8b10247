package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"budgettracker/internal/core"
	"budgettracker/internal/log"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeBody reads a single JSON document into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func isValidationError(err error) bool {
	for _, target := range []error{
		core.ErrEmptyName,
		core.ErrEmptyDescription,
		core.ErrInvalidAmount,
		core.ErrTextTooLong,
		core.ErrInvalidPeriod,
		core.ErrInvalidRecord,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeStoreError maps a store failure onto the response. Unclassified
// failures never leak their message.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, collection, op, id string) {
	status, msg, errType := http.StatusInternalServerError, "Internal server error", log.ErrorTypeInternal
	switch {
	case errors.Is(err, core.ErrNotFound):
		status, msg, errType = http.StatusNotFound, "Not found", log.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict):
		status, msg, errType = http.StatusConflict, "Record already exists", log.ErrorTypeConflict
	case errors.Is(err, core.ErrBackendUnavailable):
		status, msg, errType = http.StatusServiceUnavailable, "Service temporarily unavailable", log.ErrorTypeUnavailable
		w.Header().Set("Retry-After", "5")
	case isValidationError(err):
		status, msg, errType = http.StatusUnprocessableEntity, err.Error(), log.ErrorTypeValidation
	}

	fields := log.NewFields().WithRecord(collection, id, ownerFrom(r))
	sl := log.NewStructuredLogger(log.FromContext(r.Context()))
	if status >= 500 {
		sl.LogError(r.Context(), "Store operation failed", err, errType, log.ComponentHTTP, op, fields)
	} else {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Store operation rejected",
			append(fields.WithError(err, errType).WithOperation(op).ToSlice(), log.FieldStatusCode, status)...)
	}
	writeError(w, status, msg)
}
