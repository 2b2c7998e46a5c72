package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/internal/store"
	"github.com/shako/savings-service/pkg/rabbitmq"
)

// fakeRepository is an in-memory store.Repository. Its atomic methods hold a mutex for
// the whole call, mirroring the row-lock serialization the Postgres implementation gets
// from SELECT ... FOR UPDATE.
type fakeRepository struct {
	mu sync.Mutex

	groups           map[uuid.UUID]*domain.Group
	members          map[uuid.UUID][]domain.GroupMember
	contributions    map[uuid.UUID][]domain.Contribution
	withdrawals      map[uuid.UUID]*domain.WithdrawalRequest
	groupWithdrawals map[uuid.UUID]*domain.GroupWithdrawalRequest

	// settlements counts how many times any settlement actually executed.
	settlements int
	// failSettlement makes the next settlement attempt fail, emulating a transaction
	// rollback that discards the triggering decision write.
	failSettlement bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		groups:           make(map[uuid.UUID]*domain.Group),
		members:          make(map[uuid.UUID][]domain.GroupMember),
		contributions:    make(map[uuid.UUID][]domain.Contribution),
		withdrawals:      make(map[uuid.UUID]*domain.WithdrawalRequest),
		groupWithdrawals: make(map[uuid.UUID]*domain.GroupWithdrawalRequest),
	}
}

func (f *fakeRepository) CreateGroup(ctx context.Context, group *domain.Group, creator *domain.GroupMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	group.CreatedAt = time.Now()
	f.groups[group.ID] = group
	f.members[group.ID] = []domain.GroupMember{*creator}
	return nil
}

func (f *fakeRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	copied := *group
	return &copied, nil
}

func (f *fakeRepository) GetGroupSummary(ctx context.Context, groupID uuid.UUID) (*domain.GroupSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	return &domain.GroupSummary{
		Group:       *group,
		MemberCount: len(f.members[groupID]),
		GoalReached: group.GoalAmount > 0 && group.TotalSavings >= group.GoalAmount,
	}, nil
}

func (f *fakeRepository) AddGroupMember(ctx context.Context, member *domain.GroupMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[member.GroupID]; !ok {
		return store.ErrGroupNotFound
	}
	for _, m := range f.members[member.GroupID] {
		if m.UserID == member.UserID {
			return store.ErrMemberAlreadyExists
		}
	}
	member.JoinedAt = time.Now()
	f.members[member.GroupID] = append(f.members[member.GroupID], *member)
	return nil
}

func (f *fakeRepository) FindGroupMember(ctx context.Context, groupID, userID uuid.UUID) (*domain.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[groupID] {
		if m.UserID == userID {
			copied := m
			return &copied, nil
		}
	}
	return nil, store.ErrMemberNotFound
}

func (f *fakeRepository) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.GroupMember(nil), f.members[groupID]...), nil
}

func (f *fakeRepository) RecordContributionAtomic(ctx context.Context, contribution *domain.Contribution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[contribution.GroupID]
	if !ok {
		return store.ErrGroupNotFound
	}
	if group.Status != domain.GroupStatusActive {
		return domain.ErrGroupNotActive
	}
	contribution.CreatedAt = time.Now()
	f.contributions[contribution.GroupID] = append(f.contributions[contribution.GroupID], *contribution)
	group.TotalSavings += contribution.Amount
	return nil
}

func (f *fakeRepository) ListContributions(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]domain.Contribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.contributions[groupID]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return append([]domain.Contribution(nil), all[offset:end]...), nil
}

func (f *fakeRepository) MemberNetContribution(ctx context.Context, groupID, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberNetContributionLocked(groupID, userID), nil
}

func (f *fakeRepository) memberNetContributionLocked(groupID, userID uuid.UUID) int64 {
	var net int64
	for _, c := range f.contributions[groupID] {
		if c.UserID == userID {
			net += c.Amount
		}
	}
	for _, w := range f.withdrawals {
		if w.GroupID == groupID && w.RequesterID == userID && w.Status == domain.WithdrawalStatusApproved {
			net -= w.Amount
		}
	}
	return net
}

func (f *fakeRepository) CreateWithdrawalAtomic(ctx context.Context, request *domain.WithdrawalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[request.GroupID]
	if !ok {
		return store.ErrGroupNotFound
	}
	if group.Status != domain.GroupStatusActive {
		return domain.ErrGroupNotActive
	}
	if group.WithdrawalsLocked() {
		return domain.ErrWithdrawalsLocked
	}
	for _, w := range f.withdrawals {
		if w.GroupID == request.GroupID && w.RequesterID == request.RequesterID && w.Status == domain.WithdrawalStatusPending {
			return store.ErrPendingWithdrawalExists
		}
	}
	if request.Amount > f.memberNetContributionLocked(request.GroupID, request.RequesterID) {
		return store.ErrInsufficientContribution
	}
	request.CreatedAt = time.Now()
	f.withdrawals[request.ID] = request
	return nil
}

func (f *fakeRepository) FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.withdrawals[requestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	copied := *request
	return &copied, nil
}

func (f *fakeRepository) CancelWithdrawalAtomic(ctx context.Context, requestID, callerID uuid.UUID) (*domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.withdrawals[requestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	if err := request.Cancel(callerID); err != nil {
		return nil, err
	}
	copied := *request
	return &copied, nil
}

func (f *fakeRepository) DecideWithdrawalAtomic(ctx context.Context, requestID, deciderID uuid.UUID, approve bool, declineReason string) (*domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.withdrawals[requestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}

	staged := *request
	if err := staged.Decide(deciderID, approve, declineReason, time.Now()); err != nil {
		return nil, err
	}
	if approve {
		group := f.groups[request.GroupID]
		if f.failSettlement {
			return nil, store.ErrSettlementFailed
		}
		if group.TotalSavings < request.Amount {
			return nil, store.ErrInsufficientFunds
		}
		group.TotalSavings -= request.Amount
		f.settlements++
	}
	*request = staged
	copied := *request
	return &copied, nil
}

func (f *fakeRepository) CreateGroupWithdrawalAtomic(ctx context.Context, request *domain.GroupWithdrawalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[request.GroupID]
	if !ok {
		return store.ErrGroupNotFound
	}
	if group.Status != domain.GroupStatusActive {
		return domain.ErrGroupNotActive
	}
	if group.WithdrawalsLocked() {
		return domain.ErrWithdrawalsLocked
	}
	for _, r := range f.groupWithdrawals {
		if r.GroupID == request.GroupID && r.Status == domain.WithdrawalStatusPending {
			return store.ErrPendingGroupWithdrawalExists
		}
	}
	f.groupWithdrawals[request.ID] = request
	return nil
}

func (f *fakeRepository) FindGroupWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cloneGroupWithdrawalLocked(requestID)
}

func (f *fakeRepository) cloneGroupWithdrawalLocked(requestID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	request, ok := f.groupWithdrawals[requestID]
	if !ok {
		return nil, store.ErrGroupWithdrawalNotFound
	}
	copied := *request
	copied.Approvals = append([]domain.MemberDecision(nil), request.Approvals...)
	if request.Dispute != nil {
		dispute := *request.Dispute
		copied.Dispute = &dispute
	}
	return &copied, nil
}

func (f *fakeRepository) SubmitGroupWithdrawalDecisionAtomic(ctx context.Context, requestID, memberID uuid.UUID, decision, declineReason string) (*domain.GroupWithdrawalRequest, domain.DecisionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.groupWithdrawals[requestID]
	if !ok {
		return nil, domain.OutcomeNone, store.ErrGroupWithdrawalNotFound
	}

	// Stage on a copy so a settlement failure leaves the stored request untouched,
	// like a rolled-back transaction.
	staged := *request
	staged.Approvals = append([]domain.MemberDecision(nil), request.Approvals...)
	outcome, err := staged.ApplyDecision(memberID, decision, declineReason, time.Now())
	if err != nil {
		return nil, domain.OutcomeNone, err
	}

	if outcome == domain.OutcomeApproved {
		if f.failSettlement {
			return nil, domain.OutcomeNone, store.ErrSettlementFailed
		}
		group := f.groups[request.GroupID]
		group.TotalSavings = 0
		group.Status = domain.GroupStatusCompleted
		now := time.Now()
		staged.SettledAt = &now
		f.settlements++
	}

	*request = staged
	copied, _ := f.cloneGroupWithdrawalLocked(requestID)
	return copied, outcome, nil
}

func (f *fakeRepository) CancelGroupWithdrawalAtomic(ctx context.Context, requestID, callerID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.groupWithdrawals[requestID]
	if !ok {
		return nil, store.ErrGroupWithdrawalNotFound
	}
	if err := request.Cancel(callerID, time.Now()); err != nil {
		return nil, err
	}
	return f.cloneGroupWithdrawalLocked(requestID)
}

func (f *fakeRepository) OpenGroupWithdrawalDispute(ctx context.Context, requestID, callerID uuid.UUID, reason, supportTicketID string) (*domain.GroupWithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.groupWithdrawals[requestID]
	if !ok {
		return nil, store.ErrGroupWithdrawalNotFound
	}
	if err := request.OpenDispute(callerID, reason, time.Now()); err != nil {
		return nil, err
	}
	if supportTicketID != "" {
		request.SupportTicketID = &supportTicketID
	}
	return f.cloneGroupWithdrawalLocked(requestID)
}

func (f *fakeRepository) ResolveGroupWithdrawalDispute(ctx context.Context, requestID uuid.UUID, supportComment string) (*domain.GroupWithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.groupWithdrawals[requestID]
	if !ok {
		return nil, store.ErrGroupWithdrawalNotFound
	}
	if err := request.ResolveDispute(supportComment, time.Now()); err != nil {
		return nil, err
	}
	return f.cloneGroupWithdrawalLocked(requestID)
}

func (f *fakeRepository) FindStalePendingWithdrawals(ctx context.Context, olderThan time.Time) ([]domain.WithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []domain.WithdrawalRequest
	for _, w := range f.withdrawals {
		if w.Status == domain.WithdrawalStatusPending && w.CreatedAt.Before(olderThan) {
			stale = append(stale, *w)
		}
	}
	return stale, nil
}

func (f *fakeRepository) FindStalePendingGroupWithdrawals(ctx context.Context, olderThan time.Time) ([]domain.GroupWithdrawalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []domain.GroupWithdrawalRequest
	for _, r := range f.groupWithdrawals {
		if r.Status == domain.WithdrawalStatusPending && r.CreatedAt.Before(olderThan) {
			stale = append(stale, *r)
		}
	}
	return stale, nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu      sync.Mutex
	keys    []string
	events  []rabbitmq.WorkflowEvent
	failAll bool
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll {
		return context.DeadlineExceeded
	}
	p.keys = append(p.keys, routingKey)
	if event, ok := body.(rabbitmq.WorkflowEvent); ok {
		p.events = append(p.events, event)
	}
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *recordingPublisher) publishedEvents() []rabbitmq.WorkflowEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rabbitmq.WorkflowEvent(nil), p.events...)
}

// stubSupport is a SupportEscalator with a scriptable result.
type stubSupport struct {
	ticketID string
	err      error
	calls    int
}

func (s *stubSupport) CreateTicket(ctx context.Context, requestID, reason string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.ticketID, nil
}
