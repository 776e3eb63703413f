package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
)

// deleteConfirmation must be sent verbatim before an account is destroyed.
const deleteConfirmation = "delete my account"

type accountSummary struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	Picture      string     `json:"picture"`
	Units        string     `json:"units"`
	HomePlace    string     `json:"home_place"`
	Status       string     `json:"status"`
	RecordCount  int64      `json:"record_count"`
	LastRecordAt *time.Time `json:"last_record_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
}

func summarize(a *models.Account) accountSummary {
	return accountSummary{
		ID:           a.ID.String(),
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		Picture:      a.Picture,
		Units:        a.Units,
		HomePlace:    a.HomePlace,
		Status:       string(a.Status),
		RecordCount:  a.RecordCount,
		LastRecordAt: a.LastRecordAt,
		CreatedAt:    a.CreatedAt,
		LastActiveAt: a.LastActiveAt,
	}
}

// HandleGetMe returns the current account summary.
func HandleGetMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, summarize(AccountFromContext(r.Context())))
	}
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Picture     *string `json:"picture"`
	Units       *string `json:"units"`
	HomePlace   *string `json:"home_place"`
}

// HandleUpdateMe applies a partial profile update.
func HandleUpdateMe(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())

		var req updateProfileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body")
			return
		}

		if req.DisplayName != nil {
			name := strings.TrimSpace(*req.DisplayName)
			if name == "" || len(name) > 80 {
				writeError(w, http.StatusBadRequest, CodeValidationError, "display_name must be 1-80 characters")
				return
			}
			account.DisplayName = name
		}
		if req.Picture != nil {
			account.Picture = strings.TrimSpace(*req.Picture)
		}
		if req.Units != nil {
			units := *req.Units
			if units != "metric" && units != "imperial" {
				writeError(w, http.StatusBadRequest, CodeValidationError, "units must be metric or imperial")
				return
			}
			account.Units = units
		}
		if req.HomePlace != nil {
			account.HomePlace = strings.TrimSpace(*req.HomePlace)
		}

		if err := st.UpdateAccount(r.Context(), account); err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to update profile")
			return
		}
		writeJSON(w, http.StatusOK, summarize(account))
	}
}

type deleteAccountRequest struct {
	Confirm string `json:"confirm"`
}

// HandleDeleteMe destroys the account and everything it owns. The caller
// must send the exact confirmation phrase.
func HandleDeleteMe(st store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())

		var req deleteAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body")
			return
		}
		if req.Confirm != deleteConfirmation {
			writeError(w, http.StatusBadRequest, CodeValidationError, `confirm must be "`+deleteConfirmation+`"`)
			return
		}

		if err := st.DeleteAccount(r.Context(), account.ID); err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to delete account")
			return
		}
		log.Info("account deleted", zap.String("account_id", account.ID.String()))
		w.WriteHeader(http.StatusNoContent)
	}
}
