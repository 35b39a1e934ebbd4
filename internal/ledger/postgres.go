package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger persists wallets and transactions in PostgreSQL. Every
// balance mutation locks the wallet row so concurrent read-modify-write
// cycles against the same wallet serialize.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const walletColumns = `id, owner_kind, owner_id, balance::text, ceiling_withdraw::text, created_at, updated_at`

const transactionColumns = `id, COALESCE(user_id, ''), subject_kind, subject_id, amount::text, type, accepted, meta, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	var balance, ceiling string
	if err := row.Scan(&w.ID, &w.Owner.Kind, &w.Owner.ID, &balance, &ceiling, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	if w.CeilingWithdraw, err = decimal.NewFromString(ceiling); err != nil {
		return Wallet{}, fmt.Errorf("parse ceiling: %w", err)
	}
	return w, nil
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var amount string
	if err := row.Scan(&t.ID, &t.UserID, &t.Subject.Kind, &t.Subject.ID, &amount, &t.Type, &t.Accepted, &t.Meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	return t, nil
}

func nullableCaller(callerID string) any {
	if callerID == "" {
		return nil
	}
	return callerID
}

// EnsureWallet returns the owner's wallet, creating an empty one on first access.
func (l *PostgresLedger) EnsureWallet(ctx context.Context, owner SubjectRef, ceiling decimal.Decimal) (Wallet, error) {
	_, err := l.db.Exec(ctx, `INSERT INTO wallets (id, owner_kind, owner_id, balance, ceiling_withdraw)
        VALUES ($1, $2, $3, 0, $4::numeric)
        ON CONFLICT (owner_kind, owner_id) DO NOTHING`,
		uuid.New(), owner.Kind, owner.ID, ceiling.String())
	if err != nil {
		return Wallet{}, fmt.Errorf("ensure wallet: %w", err)
	}
	return l.WalletByOwner(ctx, owner)
}

// WalletByOwner fetches the owner's wallet without creating one.
func (l *PostgresLedger) WalletByOwner(ctx context.Context, owner SubjectRef) (Wallet, error) {
	row := l.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_kind = $1 AND owner_id = $2`, owner.Kind, owner.ID)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

// Wallet fetches a wallet by identifier.
func (l *PostgresLedger) Wallet(ctx context.Context, id string) (Wallet, error) {
	row := l.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

// Deposit credits the wallet and records the transaction in one unit.
func (l *PostgresLedger) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, meta Meta, callerID string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrAmountNotPositive
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := lockWallet(ctx, tx, walletID); err != nil {
		return Transaction{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1::numeric, updated_at = now() WHERE id = $2`,
		amount.String(), walletID); err != nil {
		return Transaction{}, err
	}

	record, err := insertTransaction(ctx, tx, Transaction{
		ID:       uuid.NewString(),
		UserID:   callerID,
		Subject:  SubjectRef{Kind: SubjectWallet, ID: walletID},
		Amount:   amount,
		Type:     TypeDeposit,
		Accepted: true,
		Meta:     meta,
	})
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// Withdraw debits the wallet when the ceiling rule allows it. A rejected
// withdrawal leaves the balance untouched but is still recorded.
func (l *PostgresLedger) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, meta Meta, callerID string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrAmountNotPositive
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := lockWallet(ctx, tx, walletID)
	if err != nil {
		return Transaction{}, err
	}

	accepted := w.CanWithdraw(amount)
	if accepted {
		if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1::numeric, updated_at = now() WHERE id = $2`,
			amount.String(), walletID); err != nil {
			return Transaction{}, err
		}
	}

	record, err := insertTransaction(ctx, tx, Transaction{
		ID:       uuid.NewString(),
		UserID:   callerID,
		Subject:  SubjectRef{Kind: SubjectWallet, ID: walletID},
		Amount:   amount,
		Type:     TypeWithdraw,
		Accepted: accepted,
		Meta:     meta,
	})
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// TransactionsBySubject lists a subject's transactions oldest first.
func (l *PostgresLedger) TransactionsBySubject(ctx context.Context, subject SubjectRef) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at ASC`, subject.Kind, subject.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, t)
	}
	return records, rows.Err()
}

// SelectTransaction resolves one transaction of the subject per the selector.
func (l *PostgresLedger) SelectTransaction(ctx context.Context, subject SubjectRef, sel Selector) (Transaction, error) {
	var row pgx.Row
	switch sel.Strategy {
	case SelectByID:
		row = l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
            WHERE id = $1 AND subject_kind = $2 AND subject_id = $3`, sel.TransactionID, subject.Kind, subject.ID)
	case SelectLatest:
		row = l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
            WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at DESC LIMIT 1`, subject.Kind, subject.ID)
	default:
		row = l.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions
            WHERE subject_kind = $1 AND subject_id = $2 ORDER BY created_at ASC LIMIT 1`, subject.Kind, subject.ID)
	}
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

// MergeMeta layers newMeta over the transaction's existing meta document.
// The row is locked so concurrent merges do not drop each other's keys.
func (l *PostgresLedger) MergeMeta(ctx context.Context, transactionID string, newMeta Meta) (Transaction, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var current Meta
	if err := tx.QueryRow(ctx, `SELECT meta FROM transactions WHERE id = $1 FOR UPDATE`, transactionID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}

	row := tx.QueryRow(ctx, `UPDATE transactions SET meta = $1, updated_at = now() WHERE id = $2
        RETURNING `+transactionColumns, current.Merge(newMeta), transactionID)
	record, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// ResetMeta replaces the transaction's meta with an empty document.
func (l *PostgresLedger) ResetMeta(ctx context.Context, transactionID string) (Transaction, error) {
	row := l.db.QueryRow(ctx, `UPDATE transactions SET meta = '{}'::jsonb, updated_at = now() WHERE id = $1
        RETURNING `+transactionColumns, transactionID)
	record, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return record, err
}

func lockWallet(ctx context.Context, tx pgx.Tx, walletID string) (Wallet, error) {
	row := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, record Transaction) (Transaction, error) {
	row := tx.QueryRow(ctx, `INSERT INTO transactions (id, user_id, subject_kind, subject_id, amount, type, accepted, meta)
        VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
        RETURNING `+transactionColumns,
		record.ID, nullableCaller(record.UserID), record.Subject.Kind, record.Subject.ID,
		record.Amount.String(), record.Type, record.Accepted, record.Meta)
	return scanTransaction(row)
}
