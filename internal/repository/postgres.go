package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SVKNL/payout-service/internal/domain"
	"github.com/SVKNL/payout-service/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const payoutColumns = "id, amount::text, currency, recipient_details, description, status, created_at, updated_at"

// Store is the Postgres-backed payout store. Exclusive access inside RunInTx
// is provided by SELECT ... FOR UPDATE row locks.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx service.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreatePayout(ctx context.Context, p *domain.Payout) error {
	query := `
		INSERT INTO payouts (id, amount, currency, recipient_details, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		p.ID, p.Amount.String(), p.Currency, p.RecipientDetails, p.Description, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payout: %w", err)
	}
	return nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	query := fmt.Sprintf("SELECT %s FROM payouts WHERE id = $1", payoutColumns)
	return scanPayout(s.db.QueryRow(ctx, query, id))
}

func (s *Store) ListPayouts(ctx context.Context, limit, offset int32) ([]domain.Payout, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payouts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, payoutColumns)
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	payouts := make([]domain.Payout, 0, limit)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return payouts, nil
}

func (s *Store) DeletePayout(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM payouts WHERE id = $1", id)
	if err != nil {
		return 0, fmt.Errorf("delete payout: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) FailStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE payouts
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
	`
	tag, err := s.db.Exec(ctx, query, string(domain.StatusFailed), string(domain.StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale processing payouts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// pgTx exposes the transactional queries over an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetPayoutForUpdate(ctx context.Context, id uuid.UUID) (*domain.Payout, error) {
	query := fmt.Sprintf("SELECT %s FROM payouts WHERE id = $1 FOR UPDATE", payoutColumns)
	return scanPayout(t.tx.QueryRow(ctx, query, id))
}

func (t *pgTx) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, status domain.Status) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE payouts SET status = $1, updated_at = NOW() WHERE id = $2",
		string(status), id,
	)
	if err != nil {
		return 0, fmt.Errorf("update payout status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) UpdatePayoutDescription(ctx context.Context, id uuid.UUID, description string) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		"UPDATE payouts SET description = $1, updated_at = NOW() WHERE id = $2",
		description, id,
	)
	if err != nil {
		return 0, fmt.Errorf("update payout description: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayout(row rowScanner) (*domain.Payout, error) {
	var (
		p         domain.Payout
		amountStr string
		status    string
	)
	err := row.Scan(&p.ID, &amountStr, &p.Currency, &p.RecipientDetails, &p.Description, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse payout amount %q: %w", amountStr, err)
	}
	p.Amount = amount
	p.Status = domain.Status(status)
	return &p, nil
}
