/**
 * @description
 * HTTP handlers for group (consensus) withdrawal requests: create, fetch, the per-member
 * decision endpoint, cancellation, and dispute escalation.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateGroupWithdrawalHandler opens a consensus withdrawal request for the whole group
// balance.
func (h *SavingsHandlers) CreateGroupWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
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
		WithdrawalType string  `json:"withdrawal_type"`
		Reason         string  `json:"reason"`
		BankAccountRef *string `json:"bank_account_ref,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=create_group_withdrawal outcome=accepted group_id=%s user_id=%s type=%s", groupID, callerID, req.WithdrawalType)

	request, err := h.service.CreateGroupWithdrawal(r.Context(), groupID, callerID, strings.TrimSpace(req.WithdrawalType), req.Reason, req.BankAccountRef)
	if err != nil {
		h.writeServiceError(w, "create_group_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

// GetGroupWithdrawalHandler fetches one group withdrawal request with its approval round.
func (h *SavingsHandlers) GetGroupWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
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

	request, err := h.service.GetGroupWithdrawal(r.Context(), requestID, callerID)
	if err != nil {
		h.writeServiceError(w, "get_group_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// SubmitGroupWithdrawalDecisionHandler records the caller's approve/decline on a pending
// group withdrawal request.
func (h *SavingsHandlers) SubmitGroupWithdrawalDecisionHandler(w http.ResponseWriter, r *http.Request) {
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
		Decision      string `json:"decision"`
		DeclineReason string `json:"decline_reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=submit_group_withdrawal_decision outcome=accepted request_id=%s user_id=%s decision=%s", requestID, callerID, req.Decision)

	request, err := h.service.SubmitGroupWithdrawalDecision(r.Context(), requestID, callerID, strings.TrimSpace(strings.ToLower(req.Decision)), req.DeclineReason)
	if err != nil {
		h.writeServiceError(w, "submit_group_withdrawal_decision", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// CancelGroupWithdrawalHandler cancels a pending group withdrawal. Requester-only.
func (h *SavingsHandlers) CancelGroupWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
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

	request, err := h.service.CancelGroupWithdrawal(r.Context(), requestID, callerID)
	if err != nil {
		h.writeServiceError(w, "cancel_group_withdrawal", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}

// CreateDisputeHandler escalates a declined group withdrawal to support.
func (h *SavingsHandlers) CreateDisputeHandler(w http.ResponseWriter, r *http.Request) {
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
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.CreateDispute(r.Context(), requestID, callerID, req.Reason)
	if err != nil {
		h.writeServiceError(w, "create_dispute", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, request)
}

// ResolveDisputeHandler records a support resolution on an open dispute. This is an
// internal endpoint for support tooling; the broker consumer covers the async path.
func (h *SavingsHandlers) ResolveDisputeHandler(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID format")
		return
	}

	var req struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	request, err := h.service.ResolveDispute(r.Context(), requestID, req.Comment)
	if err != nil {
		h.writeServiceError(w, "resolve_dispute", uuid.Nil, err)
		return
	}

	h.writeJSON(w, http.StatusOK, request)
}
