/**
 * @description
 * PostgreSQL persistence for the consensus (group) withdrawal workflow. Each write
 * operation is one transaction opening with `SELECT ... FOR UPDATE` on the request row,
 * so concurrent decisions for the same request serialize: two racing final approvals
 * cannot both observe "one approval outstanding" and both run settlement.
 *
 * Settlement executes inside the decision transaction. If any settlement statement
 * fails, the whole transaction rolls back, including the member's decision write, and
 * the request remains pending.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shako/savings-service/internal/domain"
)

const groupWithdrawalSelect = `
	SELECT id, group_id, requester_id, withdrawal_type, reason, bank_account_ref, status,
	       dispute_reason, dispute_status, dispute_support_comment, dispute_created_at,
	       support_ticket_id, settled_at, created_at, updated_at
	FROM group_withdrawal_requests
`

// CreateGroupWithdrawalAtomic inserts a request with its per-member decision slots. The
// group row lock guards the active-status, goal-lock, and single-pending-request checks.
func (r *PostgresRepository) CreateGroupWithdrawalAtomic(ctx context.Context, request *domain.GroupWithdrawalRequest) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	group, err := lockGroup(ctx, tx, request.GroupID)
	if err != nil {
		return err
	}
	if group.Status != domain.GroupStatusActive {
		return domain.ErrGroupNotActive
	}
	if group.WithdrawalsLocked() {
		return domain.ErrWithdrawalsLocked
	}

	var pendingCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_withdrawal_requests WHERE group_id = $1 AND status = 'pending'`,
		request.GroupID,
	).Scan(&pendingCount)
	if err != nil {
		return fmt.Errorf("failed to check pending group withdrawals: %w", err)
	}
	if pendingCount > 0 {
		return ErrPendingGroupWithdrawalExists
	}

	insertQuery := `
		INSERT INTO group_withdrawal_requests (id, group_id, requester_id, withdrawal_type, reason, bank_account_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $7)
	`
	if _, err := tx.Exec(ctx, insertQuery,
		request.ID, request.GroupID, request.RequesterID, request.WithdrawalType,
		request.Reason, request.BankAccountRef, request.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert group withdrawal request: %w", err)
	}

	decisionQuery := `
		INSERT INTO group_withdrawal_decisions (request_id, user_id, position, decision)
		VALUES ($1, $2, $3, 'pending')
	`
	for i, approval := range request.Approvals {
		if _, err := tx.Exec(ctx, decisionQuery, request.ID, approval.UserID, i); err != nil {
			return fmt.Errorf("failed to insert decision slot: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// FindGroupWithdrawalByID retrieves a request with its full approvals array.
func (r *PostgresRepository) FindGroupWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	request, err := scanGroupWithdrawal(r.db.QueryRow(ctx, groupWithdrawalSelect+` WHERE id = $1`, requestID))
	if err != nil {
		return nil, err
	}
	approvals, err := loadDecisions(ctx, r.db, requestID)
	if err != nil {
		return nil, err
	}
	request.Approvals = approvals
	return request, nil
}

// SubmitGroupWithdrawalDecisionAtomic records one member's decision under the request row
// lock, evaluates the state machine, and, when the decision completes unanimous approval,
// runs settlement in the same transaction.
func (r *PostgresRepository) SubmitGroupWithdrawalDecisionAtomic(ctx context.Context, requestID, memberID uuid.UUID, decision, declineReason string) (*domain.GroupWithdrawalRequest, domain.DecisionOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, domain.OutcomeNone, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	request, err := lockGroupWithdrawal(ctx, tx, requestID)
	if err != nil {
		return nil, domain.OutcomeNone, err
	}

	now := time.Now().UTC()
	outcome, err := request.ApplyDecision(memberID, decision, declineReason, now)
	if err != nil {
		return nil, domain.OutcomeNone, err
	}

	decisionUpdate := `
		UPDATE group_withdrawal_decisions
		SET decision = $1, decline_reason = $2, decided_at = $3
		WHERE request_id = $4 AND user_id = $5
	`
	var reasonParam *string
	if decision == domain.DecisionDeclined {
		reasonParam = &declineReason
	}
	if _, err := tx.Exec(ctx, decisionUpdate, decision, reasonParam, now, requestID, memberID); err != nil {
		return nil, domain.OutcomeNone, fmt.Errorf("failed to record decision: %w", err)
	}

	if outcome == domain.OutcomeApproved {
		settledAt, err := r.settleGroupWithdrawal(ctx, tx, request)
		if err != nil {
			// Rolling back also discards the decision write: the request stays
			// pending and the member may retry.
			return nil, domain.OutcomeNone, err
		}
		request.SettledAt = &settledAt
	}

	statusUpdate := `UPDATE group_withdrawal_requests SET status = $1, settled_at = $2, updated_at = $3 WHERE id = $4`
	if _, err := tx.Exec(ctx, statusUpdate, request.Status, request.SettledAt, now, requestID); err != nil {
		return nil, domain.OutcomeNone, fmt.Errorf("failed to update request status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.OutcomeNone, err
	}
	return request, outcome, nil
}

// settleGroupWithdrawal debits the group ledger for an approved request. GROUP_ACCOUNT
// pays the entire pooled balance to the request's bank account reference;
// DISTRIBUTE_TO_MEMBERS apportions it pro rata to member net contributions.
func (r *PostgresRepository) settleGroupWithdrawal(ctx context.Context, tx pgx.Tx, request *domain.GroupWithdrawalRequest) (time.Time, error) {
	group, err := lockGroup(ctx, tx, request.GroupID)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	if group.Status != domain.GroupStatusActive {
		return time.Time{}, domain.ErrGroupNotActive
	}
	if group.WithdrawalsLocked() {
		return time.Time{}, domain.ErrWithdrawalsLocked
	}

	payout := group.TotalSavings
	switch request.WithdrawalType {
	case domain.WithdrawalTypeGroupAccount:
		if payout > 0 {
			if err := insertLedgerEntry(ctx, tx, group.ID, nil,
				domain.LedgerTypeGroupWithdrawal, domain.LedgerDirectionDebit, payout, request.ID); err != nil {
				return time.Time{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
			}
		}
	case domain.WithdrawalTypeDistributeToMembers:
		weights := make([]domain.MemberShare, 0, len(request.Approvals))
		for _, approval := range request.Approvals {
			net, err := memberNetContribution(ctx, tx, group.ID, approval.UserID)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
			}
			weights = append(weights, domain.MemberShare{UserID: approval.UserID, Amount: net})
		}
		for _, share := range domain.ApportionByContribution(payout, weights) {
			if share.Amount == 0 {
				continue
			}
			userID := share.UserID
			if err := insertLedgerEntry(ctx, tx, group.ID, &userID,
				domain.LedgerTypeGroupWithdrawal, domain.LedgerDirectionDebit, share.Amount, request.ID); err != nil {
				return time.Time{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
			}
		}
	default:
		return time.Time{}, fmt.Errorf("%w: unknown withdrawal type %q", ErrSettlementFailed, request.WithdrawalType)
	}

	now := time.Now().UTC()
	result, err := tx.Exec(ctx,
		`UPDATE groups SET total_savings = 0, status = $1, updated_at = $2 WHERE id = $3 AND total_savings = $4`,
		domain.GroupStatusCompleted, now, group.ID, payout)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}
	if result.RowsAffected() != 1 {
		return time.Time{}, fmt.Errorf("%w: group balance changed during settlement", ErrSettlementFailed)
	}
	return now, nil
}

// CancelGroupWithdrawalAtomic applies the cancel transition under the request row lock.
func (r *PostgresRepository) CancelGroupWithdrawalAtomic(ctx context.Context, requestID, callerID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	request, err := lockGroupWithdrawal(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := request.Cancel(callerID, now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE group_withdrawal_requests SET status = 'cancelled', updated_at = $1 WHERE id = $2`,
		now, requestID); err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return request, nil
}

// OpenGroupWithdrawalDispute transitions a declined request to disputed and stores the
// support ticket id obtained by the app layer.
func (r *PostgresRepository) OpenGroupWithdrawalDispute(ctx context.Context, requestID, callerID uuid.UUID, reason, supportTicketID string) (*domain.GroupWithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	request, err := lockGroupWithdrawal(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := request.OpenDispute(callerID, reason, now); err != nil {
		return nil, err
	}
	request.SupportTicketID = &supportTicketID

	updateQuery := `
		UPDATE group_withdrawal_requests
		SET status = 'disputed', dispute_reason = $1, dispute_status = 'open', dispute_created_at = $2,
		    support_ticket_id = $3, updated_at = $2
		WHERE id = $4
	`
	if _, err := tx.Exec(ctx, updateQuery, reason, now, supportTicketID, requestID); err != nil {
		return nil, fmt.Errorf("failed to record dispute: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return request, nil
}

// ResolveGroupWithdrawalDispute records the outcome delivered by the support collaborator.
func (r *PostgresRepository) ResolveGroupWithdrawalDispute(ctx context.Context, requestID uuid.UUID, supportComment string) (*domain.GroupWithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	request, err := lockGroupWithdrawal(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := request.ResolveDispute(supportComment, now); err != nil {
		return nil, err
	}

	var commentParam *string
	if request.Dispute != nil {
		commentParam = request.Dispute.SupportComment
	}
	updateQuery := `
		UPDATE group_withdrawal_requests
		SET dispute_status = 'resolved', dispute_support_comment = $1, updated_at = $2
		WHERE id = $3
	`
	if _, err := tx.Exec(ctx, updateQuery, commentParam, now, requestID); err != nil {
		return nil, fmt.Errorf("failed to resolve dispute: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return request, nil
}

// FindStalePendingGroupWithdrawals returns pending requests created before the cutoff,
// each with its full approvals array so callers can see which decisions are outstanding.
func (r *PostgresRepository) FindStalePendingGroupWithdrawals(ctx context.Context, olderThan time.Time) ([]domain.GroupWithdrawalRequest, error) {
	rows, err := r.db.Query(ctx, groupWithdrawalSelect+` WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.GroupWithdrawalRequest
	for rows.Next() {
		request, err := scanGroupWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range requests {
		approvals, err := loadDecisions(ctx, r.db, requests[i].ID)
		if err != nil {
			return nil, err
		}
		requests[i].Approvals = approvals
	}
	return requests, nil
}

func lockGroupWithdrawal(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) (*domain.GroupWithdrawalRequest, error) {
	request, err := scanGroupWithdrawal(tx.QueryRow(ctx, groupWithdrawalSelect+` WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		return nil, err
	}
	approvals, err := loadDecisions(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	request.Approvals = approvals
	return request, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadDecisions(ctx context.Context, q querier, requestID uuid.UUID) ([]domain.MemberDecision, error) {
	query := `
		SELECT user_id, decision, decline_reason, decided_at
		FROM group_withdrawal_decisions
		WHERE request_id = $1
		ORDER BY position
	`
	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []domain.MemberDecision
	for rows.Next() {
		var d domain.MemberDecision
		if err := rows.Scan(&d.UserID, &d.Decision, &d.DeclineReason, &d.DecidedAt); err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func scanGroupWithdrawal(row pgx.Row) (*domain.GroupWithdrawalRequest, error) {
	var r domain.GroupWithdrawalRequest
	var disputeReason, disputeStatus, disputeComment *string
	var disputeCreatedAt *time.Time
	err := row.Scan(&r.ID, &r.GroupID, &r.RequesterID, &r.WithdrawalType, &r.Reason, &r.BankAccountRef, &r.Status,
		&disputeReason, &disputeStatus, &disputeComment, &disputeCreatedAt,
		&r.SupportTicketID, &r.SettledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupWithdrawalNotFound
		}
		return nil, err
	}
	if disputeReason != nil && disputeStatus != nil {
		r.Dispute = &domain.Dispute{Reason: *disputeReason, Status: *disputeStatus, SupportComment: disputeComment}
		if disputeCreatedAt != nil {
			r.Dispute.CreatedAt = *disputeCreatedAt
		}
	}
	return &r, nil
}
