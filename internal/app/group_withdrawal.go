/**
 * @description
 * Group (consensus) withdrawal workflow: any member may propose withdrawing the whole
 * group balance, every member must approve, the first decline is terminal, and a
 * declined request can be escalated to support as a dispute by the original requester.
 *
 * The store layer serializes concurrent decision submissions on a request row lock and
 * runs settlement inside the final-approval transaction. This layer handles caller
 * authorization, rate limiting, metrics, and fan-out notifications.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/internal/store"
	"github.com/shako/savings-service/pkg/metrics"
	"github.com/shako/savings-service/pkg/rabbitmq"
)

// CreateGroupWithdrawal opens a consensus withdrawal request with one pending decision
// slot per current member, in join order.
func (s *Service) CreateGroupWithdrawal(ctx context.Context, groupID, requesterID uuid.UUID, withdrawalType, reason string, bankAccountRef *string) (*domain.GroupWithdrawalRequest, error) {
	if _, err := s.memberOf(ctx, groupID, requesterID); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, "group_withdrawal_create", requesterID, s.withdrawalCreateLimit); err != nil {
		return nil, err
	}

	members, err := s.repo.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	memberIDs := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
	}

	request, err := domain.NewGroupWithdrawalRequest(groupID, requesterID, withdrawalType, strings.TrimSpace(reason), bankAccountRef, memberIDs, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateGroupWithdrawalAtomic(ctx, request); err != nil {
		return nil, err
	}
	log.Printf("level=info component=app op=create_group_withdrawal request_id=%s group_id=%s type=%s members=%d", request.ID, groupID, withdrawalType, len(memberIDs))

	s.publishEvent(ctx, rabbitmq.RouteGroupWithdrawalCreated, rabbitmq.WorkflowEvent{
		GroupID:       groupID,
		RequestID:     &request.ID,
		ActorID:       requesterID,
		ExcludeUserID: &requesterID,
		EventType:     "group_withdrawal_created",
		Reason:        request.Reason,
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// GetGroupWithdrawal returns a request with its full approval round. Members only.
func (s *Service) GetGroupWithdrawal(ctx context.Context, requestID, callerID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	request, err := s.repo.FindGroupWithdrawalByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberOf(ctx, request.GroupID, callerID); err != nil {
		return nil, err
	}
	return request, nil
}

// SubmitGroupWithdrawalDecision records one member's approve/decline. The store applies
// the state machine under a row lock, so concurrent submissions serialize and a final
// approval settles exactly once; a settlement failure rolls the decision back.
func (s *Service) SubmitGroupWithdrawalDecision(ctx context.Context, requestID, memberID uuid.UUID, decision, declineReason string) (*domain.GroupWithdrawalRequest, error) {
	if err := s.checkRateLimit(ctx, "group_withdrawal_decide", memberID, s.decisionRateLimit); err != nil {
		return nil, err
	}

	request, outcome, err := s.repo.SubmitGroupWithdrawalDecisionAtomic(ctx, requestID, memberID, decision, strings.TrimSpace(declineReason))
	if err != nil {
		if errors.Is(err, store.ErrSettlementFailed) {
			metrics.SettlementFailures.Inc()
			log.Printf("level=error component=app msg=\"group withdrawal settlement failed; decision rolled back\" request_id=%s member_id=%s err=%v", requestID, memberID, err)
		}
		return nil, err
	}
	metrics.DecisionsSubmitted.WithLabelValues(decision).Inc()

	now := time.Now().UTC()
	base := rabbitmq.WorkflowEvent{
		GroupID:       request.GroupID,
		RequestID:     &request.ID,
		ActorID:       memberID,
		ExcludeUserID: &memberID,
		Reason:        strings.TrimSpace(declineReason),
		Timestamp:     now,
	}

	switch outcome {
	case domain.OutcomeApproved:
		metrics.SettlementsExecuted.WithLabelValues(strings.ToLower(request.WithdrawalType)).Inc()
		log.Printf("level=info component=app op=group_withdrawal_settled request_id=%s type=%s", request.ID, request.WithdrawalType)
		approved := base
		approved.EventType = "group_withdrawal_approved"
		approved.ExcludeUserID = nil // everyone, including the final approver, hears about the payout
		s.publishEvent(ctx, rabbitmq.RouteGroupWithdrawalApproved, approved)
	case domain.OutcomeDeclined:
		declined := base
		declined.EventType = "group_withdrawal_declined"
		declined.ExcludeUserID = nil
		s.publishEvent(ctx, rabbitmq.RouteGroupWithdrawalDeclined, declined)
	default:
		recorded := base
		recorded.EventType = "group_withdrawal_decision"
		s.publishEvent(ctx, rabbitmq.RouteGroupWithdrawalDecision, recorded)
	}
	return request, nil
}

// CancelGroupWithdrawal lets the requester withdraw a still-pending request.
func (s *Service) CancelGroupWithdrawal(ctx context.Context, requestID, callerID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	request, err := s.repo.CancelGroupWithdrawalAtomic(ctx, requestID, callerID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, rabbitmq.RouteGroupWithdrawalCancel, rabbitmq.WorkflowEvent{
		GroupID:       request.GroupID,
		RequestID:     &request.ID,
		ActorID:       callerID,
		ExcludeUserID: &callerID,
		EventType:     "group_withdrawal_cancelled",
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// CreateDispute escalates a declined group withdrawal to support. The support ticket is
// created first; if ticketing fails the request stays declined and the caller gets a
// retryable escalation error. A ticket that is created but then fails to persist is
// logged for manual reconciliation rather than rolled back.
func (s *Service) CreateDispute(ctx context.Context, requestID, callerID uuid.UUID, reason string) (*domain.GroupWithdrawalRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrReasonRequired
	}

	request, err := s.repo.FindGroupWithdrawalByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	// Fail the state checks before calling out to support so we never open tickets for
	// requests that cannot be disputed.
	if callerID != request.RequesterID {
		return nil, domain.ErrNotRequester
	}
	if request.Status == domain.WithdrawalStatusDisputed {
		return nil, domain.ErrAlreadyDisputed
	}
	if request.Status != domain.WithdrawalStatusDeclined {
		return nil, domain.ErrRequestNotDeclined
	}

	ticketID := ""
	if s.support != nil {
		ticketID, err = s.support.CreateTicket(ctx, requestID.String(), strings.TrimSpace(reason))
		if err != nil {
			log.Printf("level=error component=app msg=\"support ticket creation failed\" request_id=%s err=%v", requestID, err)
			return nil, ErrSupportEscalation
		}
	}

	disputed, err := s.repo.OpenGroupWithdrawalDispute(ctx, requestID, callerID, strings.TrimSpace(reason), ticketID)
	if err != nil {
		if ticketID != "" {
			log.Printf("level=error component=app msg=\"dispute persist failed after ticket creation\" request_id=%s ticket_id=%s err=%v", requestID, ticketID, err)
		}
		return nil, err
	}
	metrics.DisputesOpened.Inc()

	s.publishEvent(ctx, rabbitmq.RouteGroupWithdrawalDisputed, rabbitmq.WorkflowEvent{
		GroupID:       disputed.GroupID,
		RequestID:     &disputed.ID,
		ActorID:       callerID,
		ExcludeUserID: &callerID,
		EventType:     "group_withdrawal_disputed",
		Reason:        strings.TrimSpace(reason),
		Timestamp:     time.Now().UTC(),
	})
	return disputed, nil
}

// ResolveDispute records the support outcome on an open dispute. Called from the support
// resolution consumer, not from the member-facing API.
func (s *Service) ResolveDispute(ctx context.Context, requestID uuid.UUID, supportComment string) (*domain.GroupWithdrawalRequest, error) {
	resolved, err := s.repo.ResolveGroupWithdrawalDispute(ctx, requestID, strings.TrimSpace(supportComment))
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=app op=resolve_dispute request_id=%s", requestID)
	return resolved, nil
}
