/**
 * @description
 * PostgreSQL implementation of the `Repository` interface: groups, members, the
 * contribution recorder, and individual withdrawal requests. Consensus (group)
 * withdrawal requests live in postgres_group_withdrawals.go.
 *
 * Every balance mutation pairs a `ledger_entries` insert with the `groups.total_savings`
 * update inside one transaction. Net member contribution is derived from the ledger
 * (contribution credits minus settled withdrawal debits), so the cap on individual
 * withdrawals always reflects settled state.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shako/savings-service/internal/domain"
)

var (
	ErrGroupNotFound                = errors.New("group not found")
	ErrMemberNotFound               = errors.New("group member not found")
	ErrMemberAlreadyExists          = errors.New("user is already a member of this group")
	ErrWithdrawalNotFound           = errors.New("withdrawal request not found")
	ErrGroupWithdrawalNotFound      = errors.New("group withdrawal request not found")
	ErrPendingWithdrawalExists      = errors.New("requester already has a pending withdrawal for this group")
	ErrPendingGroupWithdrawalExists = errors.New("group already has a pending group withdrawal")
	ErrInsufficientContribution     = errors.New("amount exceeds requester's net contribution")
	ErrInsufficientFunds            = errors.New("group balance is insufficient")
	ErrSettlementFailed             = errors.New("settlement failed")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateGroup inserts a group together with its creating admin member.
func (r *PostgresRepository) CreateGroup(ctx context.Context, group *domain.Group, creator *domain.GroupMember) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	groupQuery := `
		INSERT INTO groups (id, name, currency, goal_amount, total_savings, lock_withdrawals_until_goal, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, groupQuery,
		group.ID, group.Name, group.Currency, group.GoalAmount, group.LockWithdrawalsUntilGoal, group.Status,
	).Scan(&group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	memberQuery := `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING joined_at
	`
	if err := tx.QueryRow(ctx, memberQuery, creator.GroupID, creator.UserID, creator.Role).Scan(&creator.JoinedAt); err != nil {
		return fmt.Errorf("failed to insert creating member: %w", err)
	}

	return tx.Commit(ctx)
}

// FindGroupByID retrieves a group by its ID.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	var g domain.Group
	query := `
		SELECT id, name, currency, goal_amount, total_savings, lock_withdrawals_until_goal, status, created_at, updated_at
		FROM groups
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, groupID).Scan(
		&g.ID, &g.Name, &g.Currency, &g.GoalAmount, &g.TotalSavings, &g.LockWithdrawalsUntilGoal, &g.Status, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GetGroupSummary returns the group together with its member count.
func (r *PostgresRepository) GetGroupSummary(ctx context.Context, groupID uuid.UUID) (*domain.GroupSummary, error) {
	var summary domain.GroupSummary
	query := `
		SELECT g.id, g.name, g.currency, g.goal_amount, g.total_savings, g.lock_withdrawals_until_goal, g.status, g.created_at, g.updated_at,
		       (SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM groups g
		WHERE g.id = $1
	`
	err := r.db.QueryRow(ctx, query, groupID).Scan(
		&summary.Group.ID, &summary.Group.Name, &summary.Group.Currency, &summary.Group.GoalAmount,
		&summary.Group.TotalSavings, &summary.Group.LockWithdrawalsUntilGoal, &summary.Group.Status,
		&summary.Group.CreatedAt, &summary.Group.UpdatedAt, &summary.MemberCount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	summary.GoalReached = summary.Group.GoalAmount > 0 && summary.Group.TotalSavings >= summary.Group.GoalAmount
	return &summary, nil
}

// AddGroupMember inserts a member row. Duplicate membership maps to ErrMemberAlreadyExists.
func (r *PostgresRepository) AddGroupMember(ctx context.Context, member *domain.GroupMember) error {
	query := `
		INSERT INTO group_members (group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (group_id, user_id) DO NOTHING
		RETURNING joined_at
	`
	err := r.db.QueryRow(ctx, query, member.GroupID, member.UserID, member.Role).Scan(&member.JoinedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrMemberAlreadyExists
		}
		return err
	}
	return nil
}

// FindGroupMember retrieves a single membership row.
func (r *PostgresRepository) FindGroupMember(ctx context.Context, groupID, userID uuid.UUID) (*domain.GroupMember, error) {
	var m domain.GroupMember
	query := `SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = $1 AND user_id = $2`
	err := r.db.QueryRow(ctx, query, groupID, userID).Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListGroupMembers returns all members ordered by join time, which is also the order of
// approval slots on group withdrawals.
func (r *PostgresRepository) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.GroupMember, error) {
	query := `SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = $1 ORDER BY joined_at, user_id`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.GroupMember
	for rows.Next() {
		var m domain.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RecordContributionAtomic appends a contribution, its ledger credit, and the group
// balance increment as one transaction.
func (r *PostgresRepository) RecordContributionAtomic(ctx context.Context, contribution *domain.Contribution) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the group row so the status check and the balance update see the same state.
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM groups WHERE id = $1 FOR UPDATE`, contribution.GroupID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrGroupNotFound
		}
		return fmt.Errorf("failed to lock group: %w", err)
	}
	if status != domain.GroupStatusActive {
		return domain.ErrGroupNotActive
	}

	insertQuery := `
		INSERT INTO contributions (id, group_id, user_id, amount, payment_method_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		contribution.ID, contribution.GroupID, contribution.UserID, contribution.Amount, contribution.PaymentMethodRef,
	).Scan(&contribution.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}

	if err := insertLedgerEntry(ctx, tx, contribution.GroupID, &contribution.UserID,
		domain.LedgerTypeContribution, domain.LedgerDirectionCredit, contribution.Amount, contribution.ID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE groups SET total_savings = total_savings + $1, updated_at = NOW() WHERE id = $2`,
		contribution.Amount, contribution.GroupID)
	if err != nil {
		return fmt.Errorf("failed to update group balance: %w", err)
	}

	return tx.Commit(ctx)
}

// ListContributions returns a page of a group's contributions, newest first.
func (r *PostgresRepository) ListContributions(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]domain.Contribution, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, group_id, user_id, amount, payment_method_ref, created_at
		FROM contributions
		WHERE group_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributions []domain.Contribution
	for rows.Next() {
		var c domain.Contribution
		if err := rows.Scan(&c.ID, &c.GroupID, &c.UserID, &c.Amount, &c.PaymentMethodRef, &c.CreatedAt); err != nil {
			return nil, err
		}
		contributions = append(contributions, c)
	}
	return contributions, rows.Err()
}

// MemberNetContribution derives a member's withdrawable balance from the ledger:
// contribution credits minus settled individual withdrawal debits.
func (r *PostgresRepository) MemberNetContribution(ctx context.Context, groupID, userID uuid.UUID) (int64, error) {
	return memberNetContribution(ctx, r.db, groupID, userID)
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx so ledger reads can run
// inside or outside a transaction.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func memberNetContribution(ctx context.Context, q queryRower, groupID, userID uuid.UUID) (int64, error) {
	var net int64
	query := `
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE group_id = $1 AND user_id = $2 AND type IN ('contribution', 'withdrawal')
	`
	if err := q.QueryRow(ctx, query, groupID, userID).Scan(&net); err != nil {
		return 0, err
	}
	return net, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, groupID uuid.UUID, userID *uuid.UUID, entryType, direction string, amount int64, referenceID uuid.UUID) error {
	query := `
		INSERT INTO ledger_entries (id, group_id, user_id, type, direction, amount, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	if _, err := tx.Exec(ctx, query, uuid.New(), groupID, userID, entryType, direction, amount, referenceID); err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// CreateWithdrawalAtomic inserts an individual withdrawal request after validating, under
// the group row lock, the goal lock, the single-pending-per-requester rule, and the
// requester's net contribution cap.
func (r *PostgresRepository) CreateWithdrawalAtomic(ctx context.Context, request *domain.WithdrawalRequest) error {
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
		`SELECT COUNT(*) FROM withdrawal_requests WHERE group_id = $1 AND requester_id = $2 AND status = 'pending'`,
		request.GroupID, request.RequesterID,
	).Scan(&pendingCount)
	if err != nil {
		return fmt.Errorf("failed to check pending withdrawals: %w", err)
	}
	if pendingCount > 0 {
		return ErrPendingWithdrawalExists
	}

	net, err := memberNetContribution(ctx, tx, request.GroupID, request.RequesterID)
	if err != nil {
		return fmt.Errorf("failed to compute net contribution: %w", err)
	}
	if request.Amount > net {
		return ErrInsufficientContribution
	}

	insertQuery := `
		INSERT INTO withdrawal_requests (id, group_id, requester_id, amount, reason, bank_account_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW())
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		request.ID, request.GroupID, request.RequesterID, request.Amount, request.Reason, request.BankAccountRef,
	).Scan(&request.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal request: %w", err)
	}

	return tx.Commit(ctx)
}

// FindWithdrawalByID retrieves an individual withdrawal request.
func (r *PostgresRepository) FindWithdrawalByID(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(r.db.QueryRow(ctx, withdrawalSelect+` WHERE id = $1`, requestID))
}

const withdrawalSelect = `
	SELECT id, group_id, requester_id, amount, reason, bank_account_ref, status, decline_reason, decided_by, decided_at, created_at
	FROM withdrawal_requests
`

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	err := row.Scan(&w.ID, &w.GroupID, &w.RequesterID, &w.Amount, &w.Reason, &w.BankAccountRef,
		&w.Status, &w.DeclineReason, &w.DecidedBy, &w.DecidedAt, &w.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CancelWithdrawalAtomic row-locks the request and applies the cancel transition.
func (r *PostgresRepository) CancelWithdrawalAtomic(ctx context.Context, requestID, callerID uuid.UUID) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	request, err := scanWithdrawal(tx.QueryRow(ctx, withdrawalSelect+` WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		return nil, err
	}
	if err := request.Cancel(callerID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE withdrawal_requests SET status = 'cancelled' WHERE id = $1`, requestID); err != nil {
		return nil, fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return request, nil
}

// DecideWithdrawalAtomic applies an admin decision. Approval settles in the same
// transaction: the group balance debit, the ledger entry, and the status flip either all
// persist or none do.
func (r *PostgresRepository) DecideWithdrawalAtomic(ctx context.Context, requestID, deciderID uuid.UUID, approve bool, declineReason string) (*domain.WithdrawalRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	request, err := scanWithdrawal(tx.QueryRow(ctx, withdrawalSelect+` WHERE id = $1 FOR UPDATE`, requestID))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := request.Decide(deciderID, approve, declineReason, now); err != nil {
		return nil, err
	}

	if approve {
		group, err := lockGroup(ctx, tx, request.GroupID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
		if group.WithdrawalsLocked() {
			return nil, domain.ErrWithdrawalsLocked
		}
		if group.TotalSavings < request.Amount {
			return nil, ErrInsufficientFunds
		}
		if err := insertLedgerEntry(ctx, tx, request.GroupID, &request.RequesterID,
			domain.LedgerTypeWithdrawal, domain.LedgerDirectionDebit, request.Amount, request.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE groups SET total_savings = total_savings - $1, updated_at = NOW() WHERE id = $2`,
			request.Amount, request.GroupID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
		}
	}

	updateQuery := `
		UPDATE withdrawal_requests
		SET status = $1, decline_reason = $2, decided_by = $3, decided_at = $4
		WHERE id = $5
	`
	if _, err := tx.Exec(ctx, updateQuery, request.Status, request.DeclineReason, deciderID, now, requestID); err != nil {
		return nil, fmt.Errorf("failed to update withdrawal request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return request, nil
}

// FindStalePendingWithdrawals returns pending individual requests created before the cutoff.
func (r *PostgresRepository) FindStalePendingWithdrawals(ctx context.Context, olderThan time.Time) ([]domain.WithdrawalRequest, error) {
	rows, err := r.db.Query(ctx, withdrawalSelect+` WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.WithdrawalRequest
	for rows.Next() {
		var w domain.WithdrawalRequest
		if err := rows.Scan(&w.ID, &w.GroupID, &w.RequesterID, &w.Amount, &w.Reason, &w.BankAccountRef,
			&w.Status, &w.DeclineReason, &w.DecidedBy, &w.DecidedAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, w)
	}
	return requests, rows.Err()
}

func lockGroup(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) (*domain.Group, error) {
	var g domain.Group
	query := `
		SELECT id, name, currency, goal_amount, total_savings, lock_withdrawals_until_goal, status, created_at, updated_at
		FROM groups
		WHERE id = $1
		FOR UPDATE
	`
	err := tx.QueryRow(ctx, query, groupID).Scan(
		&g.ID, &g.Name, &g.Currency, &g.GoalAmount, &g.TotalSavings, &g.LockWithdrawalsUntilGoal, &g.Status, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to lock group: %w", err)
	}
	return &g, nil
}
