/**
 * @description
 * This file contains the HTTP handlers for the savings-service's group and contribution
 * endpoints. Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP response. They
 * act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/app"
	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/internal/store"
)

// SavingsHandlers holds the application service that handlers will use.
type SavingsHandlers struct {
	service *app.Service
}

// NewSavingsHandlers creates a new instance of SavingsHandlers.
func NewSavingsHandlers(service *app.Service) *SavingsHandlers {
	return &SavingsHandlers{service: service}
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// resolveCallerID extracts the authenticated user's UUID from the request context.
// Returns a zero status code on success; otherwise the status and message to write.
func (h *SavingsHandlers) resolveCallerID(r *http.Request) (uuid.UUID, int, string) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		return uuid.Nil, http.StatusInternalServerError, "Could not get user ID from context"
	}
	callerID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id sub=%s", userIDStr)
		return uuid.Nil, http.StatusBadRequest, "Invalid user ID format"
	}
	return callerID, 0, ""
}

// CreateGroupHandler handles requests to create a new savings group.
func (h *SavingsHandlers) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	callerID, statusCode, message := h.resolveCallerID(r)
	if statusCode != 0 {
		h.writeError(w, statusCode, message)
		return
	}

	var req struct {
		Name                     string `json:"name"`
		Currency                 string `json:"currency"`
		GoalAmount               int64  `json:"goal_amount"`
		LockWithdrawalsUntilGoal bool   `json:"lock_withdrawals_until_goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	group, err := h.service.CreateGroup(r.Context(), callerID, req.Name, req.Currency, req.GoalAmount, req.LockWithdrawalsUntilGoal)
	if err != nil {
		h.writeServiceError(w, "create_group", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, group)
}

// GetGroupSummaryHandler returns the group dashboard: totals, per-member contributions,
// and goal progress.
func (h *SavingsHandlers) GetGroupSummaryHandler(w http.ResponseWriter, r *http.Request) {
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

	summary, err := h.service.GetGroupSummary(r.Context(), groupID, callerID)
	if err != nil {
		h.writeServiceError(w, "get_group_summary", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// AddMemberHandler handles requests to add a member to a group. Admin-only.
func (h *SavingsHandlers) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
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
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	member, err := h.service.AddMember(r.Context(), groupID, callerID, req.UserID)
	if err != nil {
		h.writeServiceError(w, "add_member", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, member)
}

// ListMembersHandler lists a group's members in join order.
func (h *SavingsHandlers) ListMembersHandler(w http.ResponseWriter, r *http.Request) {
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

	members, err := h.service.ListMembers(r.Context(), groupID, callerID)
	if err != nil {
		h.writeServiceError(w, "list_members", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, members)
}

// RecordContributionHandler handles requests to record a member contribution.
func (h *SavingsHandlers) RecordContributionHandler(w http.ResponseWriter, r *http.Request) {
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
		Amount           int64  `json:"amount"`
		PaymentMethodRef string `json:"payment_method_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	log.Printf("level=info component=api endpoint=record_contribution outcome=accepted group_id=%s user_id=%s amount=%d", groupID, callerID, req.Amount)

	contribution, err := h.service.RecordContribution(r.Context(), groupID, callerID, req.Amount, req.PaymentMethodRef)
	if err != nil {
		h.writeServiceError(w, "record_contribution", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, contribution)
}

// ListContributionsHandler lists a group's contributions, newest first.
func (h *SavingsHandlers) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
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

	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	contributions, err := h.service.ListContributions(r.Context(), groupID, callerID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list_contributions", callerID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, contributions)
}

// writeServiceError maps application and store errors onto HTTP statuses. Unrecognized
// errors are logged and reported as 500 without leaking internals.
func (h *SavingsHandlers) writeServiceError(w http.ResponseWriter, endpoint string, callerID uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrDeclineReasonRequired),
		errors.Is(err, domain.ErrBankAccountRefRequired),
		errors.Is(err, domain.ErrInvalidDecision),
		errors.Is(err, app.ErrInvalidGroupName),
		errors.Is(err, app.ErrInvalidCurrency),
		errors.Is(err, app.ErrInvalidGoalAmount):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotGroupMember),
		errors.Is(err, app.ErrNotGroupAdmin),
		errors.Is(err, app.ErrSelfDecision),
		errors.Is(err, domain.ErrNotRequester),
		errors.Is(err, domain.ErrNotMember):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrWithdrawalNotFound),
		errors.Is(err, store.ErrGroupWithdrawalNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRequestNotPending),
		errors.Is(err, domain.ErrRequestNotDeclined),
		errors.Is(err, domain.ErrDuplicateDecision),
		errors.Is(err, domain.ErrAlreadyDisputed),
		errors.Is(err, domain.ErrDisputeNotOpen),
		errors.Is(err, domain.ErrGroupNotActive),
		errors.Is(err, domain.ErrWithdrawalsLocked),
		errors.Is(err, store.ErrMemberAlreadyExists),
		errors.Is(err, store.ErrPendingWithdrawalExists),
		errors.Is(err, store.ErrPendingGroupWithdrawalExists):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInsufficientContribution),
		errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait and try again.")
	case errors.Is(err, app.ErrSupportEscalation):
		h.writeError(w, http.StatusBadGateway, "Could not reach support. Please try again.")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, callerID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *SavingsHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SavingsHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
