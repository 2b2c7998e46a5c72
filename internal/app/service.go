/**
 * @description
 * This file contains the core application service for the savings-service. The `Service`
 * struct owns the group and contribution use cases and the shared plumbing used by the
 * withdrawal workflows: event publishing (fire-and-forget), rate limiting, and the
 * support desk client.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq, pkg/supportclient, pkg/metrics: For external collaborators and counters.
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

// SupportEscalator is the support desk surface the dispute workflow depends on.
type SupportEscalator interface {
	CreateTicket(ctx context.Context, requestID, reason string) (string, error)
}

// RateLimiter is the fixed-window limiter surface; nil disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for group savings.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	support       SupportEscalator

	rateLimiter           RateLimiter
	decisionRateLimit     int
	withdrawalCreateLimit int
}

// NewService creates a new savings service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, support SupportEscalator) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		support:       support,
	}
}

// SetRateLimiter enables distributed rate limiting of withdrawal creation and decision
// submission. Limits of zero or below disable the corresponding check.
func (s *Service) SetRateLimiter(limiter RateLimiter, decisionPerMinute, createPerMinute int) {
	s.rateLimiter = limiter
	s.decisionRateLimit = decisionPerMinute
	s.withdrawalCreateLimit = createPerMinute
}

// CreateGroup creates a savings group; the creator becomes its admin member.
func (s *Service) CreateGroup(ctx context.Context, creatorID uuid.UUID, name, currency string, goalAmount int64, lockWithdrawalsUntilGoal bool) (*domain.Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidGroupName
	}
	if strings.TrimSpace(currency) == "" {
		return nil, ErrInvalidCurrency
	}
	if goalAmount < 0 {
		return nil, ErrInvalidGoalAmount
	}

	group := &domain.Group{
		ID:                       uuid.New(),
		Name:                     strings.TrimSpace(name),
		Currency:                 strings.ToUpper(strings.TrimSpace(currency)),
		GoalAmount:               goalAmount,
		LockWithdrawalsUntilGoal: lockWithdrawalsUntilGoal,
		Status:                   domain.GroupStatusActive,
	}
	creator := &domain.GroupMember{GroupID: group.ID, UserID: creatorID, Role: domain.RoleAdmin}

	if err := s.repo.CreateGroup(ctx, group, creator); err != nil {
		return nil, err
	}
	log.Printf("level=info component=app op=create_group group_id=%s creator_id=%s goal=%d", group.ID, creatorID, goalAmount)
	return group, nil
}

// GetGroupSummary returns the group dashboard view. Members only.
func (s *Service) GetGroupSummary(ctx context.Context, groupID, callerID uuid.UUID) (*domain.GroupSummary, error) {
	if _, err := s.memberOf(ctx, groupID, callerID); err != nil {
		return nil, err
	}
	return s.repo.GetGroupSummary(ctx, groupID)
}

// AddMember adds a user to the group. Admin-only.
func (s *Service) AddMember(ctx context.Context, groupID, callerID, userID uuid.UUID) (*domain.GroupMember, error) {
	caller, err := s.memberOf(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	if caller.Role != domain.RoleAdmin {
		return nil, ErrNotGroupAdmin
	}

	member := &domain.GroupMember{GroupID: groupID, UserID: userID, Role: domain.RoleMember}
	if err := s.repo.AddGroupMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// ListMembers returns the group's members in join order. Members only.
func (s *Service) ListMembers(ctx context.Context, groupID, callerID uuid.UUID) ([]domain.GroupMember, error) {
	if _, err := s.memberOf(ctx, groupID, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListGroupMembers(ctx, groupID)
}

// RecordContribution validates and appends a contribution, updating the group ledger
// total atomically with the record insert.
func (s *Service) RecordContribution(ctx context.Context, groupID, userID uuid.UUID, amount int64, paymentMethodRef string) (*domain.Contribution, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.memberOf(ctx, groupID, userID); err != nil {
		return nil, err
	}

	contribution := &domain.Contribution{
		ID:               uuid.New(),
		GroupID:          groupID,
		UserID:           userID,
		Amount:           amount,
		PaymentMethodRef: strings.TrimSpace(paymentMethodRef),
	}
	if err := s.repo.RecordContributionAtomic(ctx, contribution); err != nil {
		return nil, err
	}
	metrics.ContributionsRecorded.Inc()

	s.publishEvent(ctx, rabbitmq.RouteContributionRecorded, rabbitmq.WorkflowEvent{
		GroupID:       groupID,
		ActorID:       userID,
		ExcludeUserID: &userID,
		EventType:     "contribution_recorded",
		Amount:        amount,
		Timestamp:     time.Now().UTC(),
	})
	return contribution, nil
}

// ListContributions returns a page of a group's contributions. Members only.
func (s *Service) ListContributions(ctx context.Context, groupID, callerID uuid.UUID, limit, offset int) ([]domain.Contribution, error) {
	if _, err := s.memberOf(ctx, groupID, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListContributions(ctx, groupID, limit, offset)
}

// memberOf resolves the caller's membership, translating a missing row into the
// authorization error the API maps to 403.
func (s *Service) memberOf(ctx context.Context, groupID, userID uuid.UUID) (*domain.GroupMember, error) {
	member, err := s.repo.FindGroupMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return nil, ErrNotGroupMember
		}
		return nil, err
	}
	return member, nil
}

// publishEvent hands an event to the notification dispatcher. Failures are logged and
// never propagated: notification delivery must not fail the primary operation.
func (s *Service) publishEvent(ctx context.Context, routingKey string, event rabbitmq.WorkflowEvent) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.SavingsEventsExchange, routingKey, event); err != nil {
		metrics.EventsPublished.WithLabelValues("failed").Inc()
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s group_id=%s err=%v", routingKey, event.GroupID, err)
		return
	}
	metrics.EventsPublished.WithLabelValues("published").Inc()
}

// checkRateLimit consumes one token from the caller's window. Limiter errors fail open
// with a warning so that a Redis outage cannot take down the workflows.
func (s *Service) checkRateLimit(ctx context.Context, scope string, userID uuid.UUID, limit int) error {
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, _, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, userID.String(), limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=app msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		metrics.RateLimitRejections.WithLabelValues(scope).Inc()
		return ErrRateLimited
	}
	return nil
}
