package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
)

const uniqueViolationCode = "23505"

const paymentColumns = `id, COALESCE(subject_kind, ''), COALESCE(subject_id, ''), amount::text,
    authority, COALESCE(ref_id, ''), COALESCE(status_code, ''), gateway, payed_at, created_at, updated_at`

const transactionColumns = `id, COALESCE(user_id, ''), subject_kind, subject_id, amount::text, type, accepted, meta, created_at, updated_at`

// PostgresRepository stores payments and their linked transactions in
// PostgreSQL. Lifecycle transitions update both rows inside one transaction.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var subjectKind, subjectID, amount string
	if err := row.Scan(&p.ID, &subjectKind, &subjectID, &amount, &p.Authority, &p.RefID,
		&p.StatusCode, &p.Gateway, &p.PayedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return Payment{}, fmt.Errorf("parse amount: %w", err)
	}
	if subjectKind != "" {
		p.Subject = &ledger.SubjectRef{Kind: ledger.SubjectKind(subjectKind), ID: subjectID}
	}
	return p, nil
}

func scanLinkedTransaction(row rowScanner) (ledger.Transaction, error) {
	var t ledger.Transaction
	var amount string
	if err := row.Scan(&t.ID, &t.UserID, &t.Subject.Kind, &t.Subject.ID, &amount, &t.Type,
		&t.Accepted, &t.Meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	return t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts the payment and its pending transaction in one unit.
func (r *PostgresRepository) Create(ctx context.Context, payment Payment) (Payment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var subjectKind, subjectID any
	if payment.Subject != nil {
		subjectKind = string(payment.Subject.Kind)
		subjectID = payment.Subject.ID
	}

	row := tx.QueryRow(ctx, `INSERT INTO payments (id, subject_kind, subject_id, amount, authority, ref_id, status_code, gateway)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
        RETURNING `+paymentColumns,
		payment.ID, subjectKind, subjectID, payment.Amount.String(), payment.Authority,
		nullable(payment.RefID), nullable(payment.StatusCode), payment.Gateway)
	created, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return Payment{}, ErrDuplicateAuthority
		}
		return Payment{}, err
	}

	pending := payment.Transaction
	txRow := tx.QueryRow(ctx, `INSERT INTO transactions (id, user_id, subject_kind, subject_id, amount, type, accepted, meta)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
        RETURNING `+transactionColumns,
		pending.ID, nullable(pending.UserID), ledger.SubjectPayment, created.ID,
		pending.Amount.String(), pending.Type, pending.Accepted, pending.Meta)
	created.Transaction, err = scanLinkedTransaction(txRow)
	if err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}
	return created, nil
}

// FindByAuthority returns the oldest payment matching the authority with its
// linked transaction eagerly attached.
func (r *PostgresRepository) FindByAuthority(ctx context.Context, authority string) (Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
        WHERE authority = $1 ORDER BY created_at ASC LIMIT 1`, authority)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrAuthorityNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return r.attachTransaction(ctx, p)
}

func (r *PostgresRepository) attachTransaction(ctx context.Context, p Payment) (Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at ASC LIMIT 1`,
		ledger.SubjectPayment, p.ID)
	t, err := scanLinkedTransaction(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, err
	}
	p.Transaction = t
	return p, nil
}

// Confirm marks the payment paid and flips the linked transaction to accepted
// inside one transaction. Already-paid payments are returned unchanged.
func (r *PostgresRepository) Confirm(ctx context.Context, authority, refID, statusCode string, paidAt time.Time) (Payment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := lockPayment(ctx, tx, authority)
	if err != nil {
		return Payment{}, err
	}

	if p.IsPayed() {
		if err := tx.Commit(ctx); err != nil {
			return Payment{}, err
		}
		return r.attachTransaction(ctx, p)
	}

	row := tx.QueryRow(ctx, `UPDATE payments SET ref_id = $1, status_code = $2, payed_at = $3, updated_at = now()
        WHERE id = $4 RETURNING `+paymentColumns,
		nullable(refID), nullable(statusCode), paidAt.UTC(), p.ID)
	updated, err := scanPayment(row)
	if err != nil {
		return Payment{}, err
	}

	txRow := tx.QueryRow(ctx, `UPDATE transactions SET accepted = true, updated_at = now()
        WHERE subject_kind = $1 AND subject_id = $2 RETURNING `+transactionColumns,
		ledger.SubjectPayment, p.ID)
	updated.Transaction, err = scanLinkedTransaction(txRow)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}
	return updated, nil
}

// RecordFailure stores the status code and merges the failure message into
// the linked transaction's meta. payed_at and accepted are left untouched.
func (r *PostgresRepository) RecordFailure(ctx context.Context, authority, statusCode, message string) (Payment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := lockPayment(ctx, tx, authority)
	if err != nil {
		return Payment{}, err
	}

	row := tx.QueryRow(ctx, `UPDATE payments SET status_code = $1, updated_at = now()
        WHERE id = $2 RETURNING `+paymentColumns, nullable(statusCode), p.ID)
	updated, err := scanPayment(row)
	if err != nil {
		return Payment{}, err
	}

	if message != "" {
		updated.Transaction, err = mergeLinkedMeta(ctx, tx, p.ID, ledger.Meta{"message": message})
		if err != nil {
			return Payment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}
	if message == "" {
		return r.attachTransaction(ctx, updated)
	}
	return updated, nil
}

// MergeMeta layers newMeta over the linked transaction's meta document.
func (r *PostgresRepository) MergeMeta(ctx context.Context, authority string, newMeta ledger.Meta) (Payment, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Payment{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := lockPayment(ctx, tx, authority)
	if err != nil {
		return Payment{}, err
	}

	p.Transaction, err = mergeLinkedMeta(ctx, tx, p.ID, newMeta)
	if err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// ResetMeta replaces the linked transaction's meta with an empty document.
func (r *PostgresRepository) ResetMeta(ctx context.Context, authority string) (Payment, error) {
	p, err := r.FindByAuthority(ctx, authority)
	if err != nil {
		return Payment{}, err
	}

	row := r.db.QueryRow(ctx, `UPDATE transactions SET meta = '{}'::jsonb, updated_at = now()
        WHERE subject_kind = $1 AND subject_id = $2 RETURNING `+transactionColumns,
		ledger.SubjectPayment, p.ID)
	p.Transaction, err = scanLinkedTransaction(row)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

func lockPayment(ctx context.Context, tx pgx.Tx, authority string) (Payment, error) {
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
        WHERE authority = $1 ORDER BY created_at ASC LIMIT 1 FOR UPDATE`, authority)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrAuthorityNotFound
	}
	return p, err
}

func mergeLinkedMeta(ctx context.Context, tx pgx.Tx, paymentID string, newMeta ledger.Meta) (ledger.Transaction, error) {
	var current ledger.Meta
	if err := tx.QueryRow(ctx, `SELECT meta FROM transactions
        WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at ASC LIMIT 1 FOR UPDATE`,
		ledger.SubjectPayment, paymentID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Transaction{}, ledger.ErrTransactionNotFound
		}
		return ledger.Transaction{}, err
	}

	row := tx.QueryRow(ctx, `UPDATE transactions SET meta = $1, updated_at = now()
        WHERE subject_kind = $2 AND subject_id = $3 RETURNING `+transactionColumns,
		current.Merge(newMeta), ledger.SubjectPayment, paymentID)
	return scanLinkedTransaction(row)
}
