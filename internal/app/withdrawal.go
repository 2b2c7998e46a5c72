/**
 * @description
 * Individual withdrawal workflow: a member requests money back from their own cumulative
 * contribution, a group admin approves or declines, and approval settles against the
 * group ledger inside the deciding transaction.
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

// CreateWithdrawal opens an individual withdrawal request. The store enforces the
// goal lock, the one-pending-request rule, and the net-contribution cap under the
// group row lock.
func (s *Service) CreateWithdrawal(ctx context.Context, groupID, requesterID uuid.UUID, amount int64, reason, bankAccountRef string) (*domain.WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		return nil, domain.ErrReasonRequired
	}
	if strings.TrimSpace(bankAccountRef) == "" {
		return nil, domain.ErrBankAccountRefRequired
	}
	if _, err := s.memberOf(ctx, groupID, requesterID); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, "withdrawal_create", requesterID, s.withdrawalCreateLimit); err != nil {
		return nil, err
	}

	request := &domain.WithdrawalRequest{
		ID:             uuid.New(),
		GroupID:        groupID,
		RequesterID:    requesterID,
		Amount:         amount,
		Reason:         strings.TrimSpace(reason),
		BankAccountRef: strings.TrimSpace(bankAccountRef),
		Status:         domain.WithdrawalStatusPending,
	}
	if err := s.repo.CreateWithdrawalAtomic(ctx, request); err != nil {
		return nil, err
	}
	log.Printf("level=info component=app op=create_withdrawal request_id=%s group_id=%s amount=%d", request.ID, groupID, amount)

	s.publishEvent(ctx, rabbitmq.RouteWithdrawalRequested, rabbitmq.WorkflowEvent{
		GroupID:       groupID,
		RequestID:     &request.ID,
		ActorID:       requesterID,
		ExcludeUserID: &requesterID,
		EventType:     "withdrawal_requested",
		Amount:        amount,
		Reason:        request.Reason,
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// GetWithdrawal returns a withdrawal request. Members of its group only.
func (s *Service) GetWithdrawal(ctx context.Context, requestID, callerID uuid.UUID) (*domain.WithdrawalRequest, error) {
	request, err := s.repo.FindWithdrawalByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberOf(ctx, request.GroupID, callerID); err != nil {
		return nil, err
	}
	return request, nil
}

// CancelWithdrawal lets the requester withdraw a still-pending request.
func (s *Service) CancelWithdrawal(ctx context.Context, requestID, callerID uuid.UUID) (*domain.WithdrawalRequest, error) {
	request, err := s.repo.CancelWithdrawalAtomic(ctx, requestID, callerID)
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, rabbitmq.RouteWithdrawalCancelled, rabbitmq.WorkflowEvent{
		GroupID:       request.GroupID,
		RequestID:     &request.ID,
		ActorID:       callerID,
		ExcludeUserID: &callerID,
		EventType:     "withdrawal_cancelled",
		Amount:        request.Amount,
		Timestamp:     time.Now().UTC(),
	})
	return request, nil
}

// DecideWithdrawal records an admin decision. The admin may not decide their own
// request. Approval debits the requester's contribution and the group total in the same
// transaction that flips the status, so a crash cannot approve without settling.
func (s *Service) DecideWithdrawal(ctx context.Context, requestID, deciderID uuid.UUID, approve bool, declineReason string) (*domain.WithdrawalRequest, error) {
	if !approve && strings.TrimSpace(declineReason) == "" {
		return nil, domain.ErrDeclineReasonRequired
	}
	request, err := s.repo.FindWithdrawalByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	decider, err := s.memberOf(ctx, request.GroupID, deciderID)
	if err != nil {
		return nil, err
	}
	if decider.Role != domain.RoleAdmin {
		return nil, ErrNotGroupAdmin
	}
	if request.RequesterID == deciderID {
		return nil, ErrSelfDecision
	}
	if err := s.checkRateLimit(ctx, "withdrawal_decide", deciderID, s.decisionRateLimit); err != nil {
		return nil, err
	}

	decided, err := s.repo.DecideWithdrawalAtomic(ctx, requestID, deciderID, approve, strings.TrimSpace(declineReason))
	if err != nil {
		if errors.Is(err, store.ErrSettlementFailed) {
			metrics.SettlementFailures.Inc()
		}
		return nil, err
	}

	routingKey := rabbitmq.RouteWithdrawalDeclined
	eventType := "withdrawal_declined"
	if approve {
		routingKey = rabbitmq.RouteWithdrawalApproved
		eventType = "withdrawal_approved"
		metrics.SettlementsExecuted.WithLabelValues("individual").Inc()
	}
	metrics.DecisionsSubmitted.WithLabelValues(decided.Status).Inc()
	log.Printf("level=info component=app op=decide_withdrawal request_id=%s decider_id=%s status=%s", requestID, deciderID, decided.Status)

	s.publishEvent(ctx, routingKey, rabbitmq.WorkflowEvent{
		GroupID:   decided.GroupID,
		RequestID: &decided.ID,
		ActorID:   deciderID,
		EventType: eventType,
		Amount:    decided.Amount,
		Reason:    strings.TrimSpace(declineReason),
		Timestamp: time.Now().UTC(),
	})
	return decided, nil
}
