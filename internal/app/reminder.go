/**
 * @description
 * Periodic reminder sweep for stale pending withdrawal requests. Instead of auto-expiring
 * requests, the service nudges the people whose decision is outstanding: group admins for
 * individual withdrawals, undecided members for group withdrawals.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/pkg/rabbitmq"
)

const maxReminderBatch = 500

// ReminderSweepResult summarizes one sweep run.
type ReminderSweepResult struct {
	IndividualReminders int `json:"individual_reminders"`
	GroupReminders      int `json:"group_reminders"`
	PublishFailures     int `json:"publish_failures"`
}

// RemindPendingWithdrawals publishes a reminder event for every withdrawal request that
// has been pending longer than pendingAge. Publish failures are counted, not fatal: the
// next sweep picks the same requests up again.
func (s *Service) RemindPendingWithdrawals(ctx context.Context, pendingAge time.Duration) (*ReminderSweepResult, error) {
	if pendingAge <= 0 {
		pendingAge = 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-pendingAge)
	result := &ReminderSweepResult{}

	stale, err := s.repo.FindStalePendingWithdrawals(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale withdrawals: %w", err)
	}
	for i, request := range stale {
		if i >= maxReminderBatch {
			break
		}
		if !s.publishReminder(ctx, request.GroupID.String(), rabbitmq.WorkflowEvent{
			GroupID:   request.GroupID,
			RequestID: &request.ID,
			ActorID:   request.RequesterID,
			EventType: "withdrawal_pending_reminder",
			Amount:    request.Amount,
			Timestamp: time.Now().UTC(),
		}) {
			result.PublishFailures++
			continue
		}
		result.IndividualReminders++
	}

	staleGroup, err := s.repo.FindStalePendingGroupWithdrawals(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list stale group withdrawals: %w", err)
	}
	for i, request := range staleGroup {
		if i >= maxReminderBatch {
			break
		}
		if !s.publishReminder(ctx, request.GroupID.String(), rabbitmq.WorkflowEvent{
			GroupID:   request.GroupID,
			RequestID: &request.ID,
			ActorID:   request.RequesterID,
			EventType: "group_withdrawal_pending_reminder",
			Reason:    undecidedSummary(request),
			Timestamp: time.Now().UTC(),
		}) {
			result.PublishFailures++
			continue
		}
		result.GroupReminders++
	}

	log.Printf("level=info component=app op=reminder_sweep individual=%d group=%d failures=%d", result.IndividualReminders, result.GroupReminders, result.PublishFailures)
	return result, nil
}

func (s *Service) publishReminder(ctx context.Context, groupID string, event rabbitmq.WorkflowEvent) bool {
	if s.eventProducer == nil {
		return false
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.SavingsEventsExchange, rabbitmq.RouteWithdrawalReminder, event); err != nil {
		log.Printf("level=warn component=app msg=\"reminder publish failed\" group_id=%s err=%v", groupID, err)
		return false
	}
	return true
}

// undecidedSummary names how many approvals are still outstanding, for the notification
// template.
func undecidedSummary(request domain.GroupWithdrawalRequest) string {
	outstanding := 0
	for _, decision := range request.Approvals {
		if decision.Decision == domain.DecisionPending {
			outstanding++
		}
	}
	return fmt.Sprintf("%d of %d approvals outstanding", outstanding, len(request.Approvals))
}
