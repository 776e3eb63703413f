package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
)

// HandleListRecords returns the caller's records, newest observation first.
func HandleListRecords(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		records, err := st.ListRecords(r.Context(), account.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to fetch records")
			return
		}
		if records == nil {
			records = []models.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

type createRecordRequest struct {
	Title        string     `json:"title"`
	Notes        string     `json:"notes"`
	Place        string     `json:"place"`
	Conditions   string     `json:"conditions"`
	TemperatureC *float64   `json:"temperature_c"`
	ObservedAt   *time.Time `json:"observed_at"`
}

// HandleCreateRecord stores an observation and bumps the account's
// denormalized usage stats.
func HandleCreateRecord(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())

		var req createRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" || len(req.Title) > 200 {
			writeError(w, http.StatusBadRequest, CodeValidationError, "title must be 1-200 characters")
			return
		}

		now := time.Now().UTC()
		observedAt := now
		if req.ObservedAt != nil {
			observedAt = req.ObservedAt.UTC()
		}

		record := &models.Record{
			AccountID:    account.ID,
			Title:        req.Title,
			Notes:        req.Notes,
			Place:        req.Place,
			Conditions:   req.Conditions,
			TemperatureC: req.TemperatureC,
			ObservedAt:   observedAt,
			CreatedAt:    now,
		}
		if err := st.CreateRecord(r.Context(), record); err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to create record")
			return
		}
		if err := st.IncrementRecordStats(r.Context(), account.ID, now); err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to update account stats")
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

// HandleGetRecord returns one record owned by the caller.
func HandleGetRecord(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid record id")
			return
		}

		record, err := st.RecordByID(r.Context(), account.ID, id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "Record not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to fetch record")
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

// HandleDeleteRecord removes one record owned by the caller.
func HandleDeleteRecord(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid record id")
			return
		}

		n, err := st.DeleteRecord(r.Context(), account.ID, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to delete record")
			return
		}
		if n == 0 {
			writeError(w, http.StatusNotFound, CodeNotFound, "Record not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
