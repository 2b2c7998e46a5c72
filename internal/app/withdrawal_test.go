package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shako/savings-service/internal/domain"
	"github.com/shako/savings-service/internal/store"
)

func seedContribution(t *testing.T, service *Service, groupID, userID uuid.UUID, amount int64) {
	t.Helper()
	if _, err := service.RecordContribution(context.Background(), groupID, userID, amount, "card"); err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}
}

func TestCreateWithdrawal_Validation(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[1], 10000)

	cases := []struct {
		name    string
		amount  int64
		reason  string
		bankRef string
		want    error
	}{
		{"zero amount", 0, "rent", "0123456789", domain.ErrInvalidAmount},
		{"missing reason", 500, "  ", "0123456789", domain.ErrReasonRequired},
		{"missing bank ref", 500, "rent", "", domain.ErrBankAccountRefRequired},
	}
	for _, tc := range cases {
		if _, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], tc.amount, tc.reason, tc.bankRef); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := service.CreateWithdrawal(context.Background(), group.ID, uuid.New(), 500, "rent", "0123456789"); !errors.Is(err, ErrNotGroupMember) {
		t.Fatalf("expected ErrNotGroupMember for outsider, got %v", err)
	}
}

func TestCreateWithdrawal_CappedByNetContribution(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[1], 5000)

	if _, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 5001, "rent", "0123456789"); !errors.Is(err, store.ErrInsufficientContribution) {
		t.Fatalf("expected ErrInsufficientContribution, got %v", err)
	}
	if _, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 5000, "rent", "0123456789"); err != nil {
		t.Fatalf("withdrawal up to net contribution must succeed, got %v", err)
	}
}

func TestCreateWithdrawal_OnePendingPerMember(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[1], 10000)

	if _, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 1000, "rent", "0123456789"); err != nil {
		t.Fatalf("first withdrawal returned error: %v", err)
	}
	if _, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 1000, "more rent", "0123456789"); !errors.Is(err, store.ErrPendingWithdrawalExists) {
		t.Fatalf("expected ErrPendingWithdrawalExists, got %v", err)
	}
}

func TestCreateWithdrawal_GoalLockBlocks(t *testing.T) {
	repo := newFakeRepository()
	service := NewService(repo, &recordingPublisher{}, nil)
	creatorID := uuid.New()

	group, err := service.CreateGroup(context.Background(), creatorID, "Locked Fund", "NGN", 100000, true)
	if err != nil {
		t.Fatalf("CreateGroup returned error: %v", err)
	}
	seedContribution(t, service, group.ID, creatorID, 50000)

	if _, err := service.CreateWithdrawal(context.Background(), group.ID, creatorID, 1000, "rent", "0123456789"); !errors.Is(err, domain.ErrWithdrawalsLocked) {
		t.Fatalf("expected ErrWithdrawalsLocked below goal, got %v", err)
	}

	// Reaching the goal releases the lock.
	seedContribution(t, service, group.ID, creatorID, 50000)
	if _, err := service.CreateWithdrawal(context.Background(), group.ID, creatorID, 1000, "rent", "0123456789"); err != nil {
		t.Fatalf("withdrawal after goal reached returned error: %v", err)
	}
}

func TestDecideWithdrawal_Authorization(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 3)
	seedContribution(t, service, group.ID, members[1], 10000)
	request, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 4000, "rent", "0123456789")
	if err != nil {
		t.Fatalf("CreateWithdrawal returned error: %v", err)
	}

	// Regular member cannot decide.
	if _, err := service.DecideWithdrawal(context.Background(), request.ID, members[2], true, ""); !errors.Is(err, ErrNotGroupAdmin) {
		t.Fatalf("expected ErrNotGroupAdmin, got %v", err)
	}
	// Decline requires a reason.
	if _, err := service.DecideWithdrawal(context.Background(), request.ID, members[0], false, " "); !errors.Is(err, domain.ErrDeclineReasonRequired) {
		t.Fatalf("expected ErrDeclineReasonRequired, got %v", err)
	}
}

func TestDecideWithdrawal_AdminCannotDecideOwnRequest(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[0], 10000)
	request, err := service.CreateWithdrawal(context.Background(), group.ID, members[0], 4000, "rent", "0123456789")
	if err != nil {
		t.Fatalf("CreateWithdrawal returned error: %v", err)
	}

	if _, err := service.DecideWithdrawal(context.Background(), request.ID, members[0], true, ""); !errors.Is(err, ErrSelfDecision) {
		t.Fatalf("expected ErrSelfDecision, got %v", err)
	}
}

func TestDecideWithdrawal_ApprovalSettles(t *testing.T) {
	service, repo, publisher, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[1], 10000)
	request, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 4000, "rent", "0123456789")
	if err != nil {
		t.Fatalf("CreateWithdrawal returned error: %v", err)
	}

	decided, err := service.DecideWithdrawal(context.Background(), request.ID, members[0], true, "")
	if err != nil {
		t.Fatalf("DecideWithdrawal returned error: %v", err)
	}
	if decided.Status != domain.WithdrawalStatusApproved {
		t.Fatalf("expected approved status, got %q", decided.Status)
	}
	if repo.groups[group.ID].TotalSavings != 6000 {
		t.Fatalf("expected balance 6000 after settlement, got %d", repo.groups[group.ID].TotalSavings)
	}
	if repo.settlements != 1 {
		t.Fatalf("expected one settlement, got %d", repo.settlements)
	}

	keys := publisher.published()
	if keys[len(keys)-1] != "savings.withdrawal.approved" {
		t.Fatalf("expected approved event last, got %v", keys)
	}
}

func TestDecideWithdrawal_DeclineDoesNotSettle(t *testing.T) {
	service, repo, _, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[1], 10000)
	request, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 4000, "rent", "0123456789")
	if err != nil {
		t.Fatalf("CreateWithdrawal returned error: %v", err)
	}

	decided, err := service.DecideWithdrawal(context.Background(), request.ID, members[0], false, "save for the goal")
	if err != nil {
		t.Fatalf("DecideWithdrawal returned error: %v", err)
	}
	if decided.Status != domain.WithdrawalStatusDeclined {
		t.Fatalf("expected declined status, got %q", decided.Status)
	}
	if decided.DeclineReason == nil || *decided.DeclineReason != "save for the goal" {
		t.Fatalf("expected decline reason to be stored, got %v", decided.DeclineReason)
	}
	if repo.groups[group.ID].TotalSavings != 10000 {
		t.Fatalf("declined withdrawal must not move money, got balance %d", repo.groups[group.ID].TotalSavings)
	}
}

func TestCancelWithdrawal_RequesterOnlyWhilePending(t *testing.T) {
	service, _, _, group, members := seedGroup(t, 2)
	seedContribution(t, service, group.ID, members[1], 10000)
	request, err := service.CreateWithdrawal(context.Background(), group.ID, members[1], 4000, "rent", "0123456789")
	if err != nil {
		t.Fatalf("CreateWithdrawal returned error: %v", err)
	}

	if _, err := service.CancelWithdrawal(context.Background(), request.ID, members[0]); !errors.Is(err, domain.ErrNotRequester) {
		t.Fatalf("expected ErrNotRequester, got %v", err)
	}
	cancelled, err := service.CancelWithdrawal(context.Background(), request.ID, members[1])
	if err != nil {
		t.Fatalf("CancelWithdrawal returned error: %v", err)
	}
	if cancelled.Status != domain.WithdrawalStatusCancelled {
		t.Fatalf("expected cancelled status, got %q", cancelled.Status)
	}
	if _, err := service.CancelWithdrawal(context.Background(), request.ID, members[1]); !errors.Is(err, domain.ErrRequestNotPending) {
		t.Fatalf("expected ErrRequestNotPending on second cancel, got %v", err)
	}
}
