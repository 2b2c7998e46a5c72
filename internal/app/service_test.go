package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/internal/store"
	"github.com/shako/savings-service/pkg/rabbitmq"
)

func TestCreateGroup_Validation(t *testing.T) {
	service := NewService(newFakeRepository(), &recordingPublisher{}, nil)
	creatorID := uuid.New()

	if _, err := service.CreateGroup(context.Background(), creatorID, "  ", "NGN", 0, false); !errors.Is(err, ErrInvalidGroupName) {
		t.Fatalf("expected ErrInvalidGroupName, got %v", err)
	}
	if _, err := service.CreateGroup(context.Background(), creatorID, "Fund", "", 0, false); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
	if _, err := service.CreateGroup(context.Background(), creatorID, "Fund", "NGN", -1, false); !errors.Is(err, ErrInvalidGoalAmount) {
		t.Fatalf("expected ErrInvalidGoalAmount, got %v", err)
	}

	group, err := service.CreateGroup(context.Background(), creatorID, " Fund ", "ngn", 100000, true)
	if err != nil {
		t.Fatalf("CreateGroup returned error: %v", err)
	}
	if group.Name != "Fund" {
		t.Fatalf("expected trimmed name, got %q", group.Name)
	}
	if group.Currency != "NGN" {
		t.Fatalf("expected uppercased currency, got %q", group.Currency)
	}
	if group.Status != domain.GroupStatusActive {
		t.Fatalf("expected active status, got %q", group.Status)
	}
}

func TestCreateGroup_CreatorIsAdmin(t *testing.T) {
	repo := newFakeRepository()
	service := NewService(repo, &recordingPublisher{}, nil)
	creatorID := uuid.New()

	group, err := service.CreateGroup(context.Background(), creatorID, "Fund", "NGN", 0, false)
	if err != nil {
		t.Fatalf("CreateGroup returned error: %v", err)
	}
	member, err := repo.FindGroupMember(context.Background(), group.ID, creatorID)
	if err != nil {
		t.Fatalf("FindGroupMember returned error: %v", err)
	}
	if member.Role != domain.RoleAdmin {
		t.Fatalf("expected creator to be admin, got %q", member.Role)
	}
}

func TestAddMember_AdminOnlyAndNoDuplicates(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)

	if _, err := service.AddMember(context.Background(), group.ID, members[1], uuid.New()); !errors.Is(err, ErrNotGroupAdmin) {
		t.Fatalf("expected ErrNotGroupAdmin for regular member, got %v", err)
	}
	if _, err := service.AddMember(context.Background(), group.ID, uuid.New(), uuid.New()); !errors.Is(err, ErrNotGroupMember) {
		t.Fatalf("expected ErrNotGroupMember for outsider, got %v", err)
	}
	if _, err := service.AddMember(context.Background(), group.ID, members[0], members[1]); !errors.Is(err, store.ErrMemberAlreadyExists) {
		t.Fatalf("expected ErrMemberAlreadyExists, got %v", err)
	}
}

func TestRecordContribution_UpdatesBalanceAndPublishes(t *testing.T) {
	service, repo, publisher, group, members := seedGroup(t, 2)

	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 0, "card"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero amount, got %v", err)
	}
	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], -5, "card"); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
	if _, err := service.RecordContribution(context.Background(), group.ID, uuid.New(), 1000, "card"); !errors.Is(err, ErrNotGroupMember) {
		t.Fatalf("expected ErrNotGroupMember for outsider, got %v", err)
	}

	contribution, err := service.RecordContribution(context.Background(), group.ID, members[1], 2500, "bank_transfer")
	if err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}
	if contribution.Amount != 2500 {
		t.Fatalf("expected amount 2500, got %d", contribution.Amount)
	}
	if repo.groups[group.ID].TotalSavings != 2500 {
		t.Fatalf("expected group balance 2500, got %d", repo.groups[group.ID].TotalSavings)
	}

	keys := publisher.published()
	if len(keys) == 0 || keys[len(keys)-1] != "savings.contribution.recorded" {
		t.Fatalf("expected contribution event to be published, got %v", keys)
	}
}

func TestRecordContribution_PublishFailureDoesNotFailOperation(t *testing.T) {
	service, repo, publisher, group, members := seedGroup(t, 2)
	publisher.failAll = true

	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 1000, "card"); err != nil {
		t.Fatalf("contribution must succeed despite publish failure, got %v", err)
	}
	if repo.groups[group.ID].TotalSavings != 1000 {
		t.Fatalf("expected balance update despite publish failure, got %d", repo.groups[group.ID].TotalSavings)
	}
}

func TestGetGroupSummary_MembersOnly(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 1000, "card"); err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}

	if _, err := service.GetGroupSummary(context.Background(), group.ID, uuid.New()); !errors.Is(err, ErrNotGroupMember) {
		t.Fatalf("expected ErrNotGroupMember for outsider, got %v", err)
	}

	summary, err := service.GetGroupSummary(context.Background(), group.ID, members[1])
	if err != nil {
		t.Fatalf("GetGroupSummary returned error: %v", err)
	}
	if summary.MemberCount != 2 {
		t.Fatalf("expected member count 2, got %d", summary.MemberCount)
	}
	if summary.Group.TotalSavings != 1000 {
		t.Fatalf("expected total savings 1000, got %d", summary.Group.TotalSavings)
	}
}

// fixedRateLimiter returns a scripted count for every call.
type fixedRateLimiter struct {
	count int
	err   error
}

func (l *fixedRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	return l.count, 30, nil
}

func TestCheckRateLimit_OverLimitRejected(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 10000, "card"); err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}

	service.SetRateLimiter(&fixedRateLimiter{count: 11}, 30, 10)
	_, err := service.CreateWithdrawal(context.Background(), group.ID, members[0], 500, "rent", "0123456789")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCheckRateLimit_LimiterErrorFailsOpen(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 10000, "card"); err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}

	service.SetRateLimiter(&fixedRateLimiter{err: errors.New("redis down")}, 30, 10)
	if _, err := service.CreateWithdrawal(context.Background(), group.ID, members[0], 500, "rent", "0123456789"); err != nil {
		t.Fatalf("limiter outage must fail open, got %v", err)
	}
}

func TestRemindPendingWithdrawals(t *testing.T) {
	service, repo, publisher, group, members := seedGroup(t, 2)
	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 10000, "card"); err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}
	request, err := service.CreateWithdrawal(context.Background(), group.ID, members[0], 500, "rent", "0123456789")
	if err != nil {
		t.Fatalf("CreateWithdrawal returned error: %v", err)
	}

	// Backdate the request past the pending-age cutoff.
	repo.withdrawals[request.ID].CreatedAt = time.Now().Add(-48 * time.Hour)

	result, err := service.RemindPendingWithdrawals(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("RemindPendingWithdrawals returned error: %v", err)
	}
	if result.IndividualReminders != 1 {
		t.Fatalf("expected one individual reminder, got %d", result.IndividualReminders)
	}

	var reminders int
	for _, key := range publisher.published() {
		if key == "savings.withdrawal.reminder" {
			reminders++
		}
	}
	if reminders != 1 {
		t.Fatalf("expected one reminder event, got %d", reminders)
	}
}

func TestRemindPendingGroupWithdrawals_ReportsOutstandingApprovals(t *testing.T) {
	service, repo, publisher, group, members := seedGroup(t, 3)
	if _, err := service.RecordContribution(context.Background(), group.ID, members[0], 10000, "card"); err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}
	request := openGroupWithdrawal(t, service, group.ID, members[0])
	if _, err := service.SubmitGroupWithdrawalDecision(context.Background(), request.ID, members[1], domain.DecisionApproved, ""); err != nil {
		t.Fatalf("SubmitGroupWithdrawalDecision returned error: %v", err)
	}

	// Backdate the request past the pending-age cutoff.
	repo.groupWithdrawals[request.ID].CreatedAt = time.Now().Add(-48 * time.Hour)

	result, err := service.RemindPendingWithdrawals(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("RemindPendingWithdrawals returned error: %v", err)
	}
	if result.GroupReminders != 1 {
		t.Fatalf("expected one group reminder, got %d", result.GroupReminders)
	}

	var reminder *rabbitmq.WorkflowEvent
	for _, event := range publisher.publishedEvents() {
		if event.EventType == "group_withdrawal_pending_reminder" {
			e := event
			reminder = &e
		}
	}
	if reminder == nil {
		t.Fatal("expected a group reminder event to be published")
	}
	// One of three members has approved; the payload names the two outstanding slots.
	if reminder.Reason != "2 of 3 approvals outstanding" {
		t.Fatalf("expected outstanding-approvals summary, got %q", reminder.Reason)
	}
}
