/**
 * @description
 * HTTP handlers for individual withdrawal requests: create, fetch, cancel, and the
 * admin decision endpoint.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateWithdrawalHandler opens an individual withdrawal request against the caller's
// own contributions.
func (h *SavingsHandlers) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	callerID, statusCode, message := h.resolveCallerID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	groupID, err := uuid.Parse(chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid group ID format")
		return
	}

	var req struct {
		Amount         int64  `json:"amount"`
		Reason         string `json:"reason"`
		BankAccountRef string `json:"bank_account_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=create_withdrawal outcome=accepted group_id=%s user_id=%s amount=%d", groupID, callerID, req.Amount)

	request, err := h.service.CreateWithdrawal(r.Context(), groupID, callerID, req.Amount, req.Reason, req.BankAccountRef)
	if err != nil {
		h.writeServiceError(w, "create_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

// GetWithdrawalHandler fetches one withdrawal request by ID.
func (h *SavingsHandlers) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	callerID, statusCode, message := h.resolveCallerID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID format")
		return
	}

	request, err := h.service.GetWithdrawal(r.Context(), requestID, callerID)
	if err != nil {
		h.writeServiceError(w, "get_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// CancelWithdrawalHandler cancels a pending request. Requester-only.
func (h *SavingsHandlers) CancelWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	callerID, statusCode, message := h.resolveCallerID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID format")
		return
	}

	request, err := h.service.CancelWithdrawal(r.Context(), requestID, callerID)
	if err != nil {
		h.writeServiceError(w, "cancel_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// DecideWithdrawalHandler records an admin approve/decline on a pending request.
func (h *SavingsHandlers) DecideWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	callerID, statusCode, message := h.resolveCallerID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID format")
		return
	}

	var req struct {
		Approve       bool   `json:"approve"`
		DeclineReason string `json:"decline_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.DecideWithdrawal(r.Context(), requestID, callerID, req.Approve, req.DeclineReason)
	if err != nil {
		h.writeServiceError(w, "decide_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}
