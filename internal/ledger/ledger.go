package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAmountNotPositive occurs when a deposit or withdrawal is requested
	// for a zero or negative amount.
	ErrAmountNotPositive = errors.New("amount must be positive")

	// ErrWalletNotFound indicates no wallet exists for the given identifier or owner.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound indicates the meta operations could not locate a
	// transaction for the given subject or identifier.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// SubjectKind tags a polymorphic reference with the entity type it points at.
type SubjectKind string

const (
	// SubjectUser identifies an application-level account owning a wallet.
	SubjectUser SubjectKind = "user"
	// SubjectWallet identifies a wallet as the originator of a transaction.
	SubjectWallet SubjectKind = "wallet"
	// SubjectPayment identifies a gateway payment as the originator of a transaction.
	SubjectPayment SubjectKind = "payment"
)

// SubjectRef is an explicit tagged reference replacing dynamic morph relations:
// an entity kind plus its identifier.
type SubjectRef struct {
	Kind SubjectKind
	ID   string
}

// TxType classifies the direction of a ledger transaction.
type TxType string

const (
	// TypeDeposit credits a wallet balance.
	TypeDeposit TxType = "deposit"
	// TypeWithdraw debits a wallet balance.
	TypeWithdraw TxType = "withdraw"
)

// Wallet holds a running balance and an overdraft ceiling for one owner.
// The balance is only ever changed by the ledger inside an atomic apply
// that also writes a Transaction.
type Wallet struct {
	ID              string
	Owner           SubjectRef
	Balance         decimal.Decimal
	CeilingWithdraw decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanWithdraw reports whether the balance plus the overdraft ceiling covers
// the requested amount.
func (w Wallet) CanWithdraw(amount decimal.Decimal) bool {
	return w.Balance.Add(w.CeilingWithdraw).GreaterThanOrEqual(amount)
}

// Transaction is an audit entry for one balance- or payment-affecting event.
// It is append-only except for the Meta document and the Accepted flag.
type Transaction struct {
	ID        string
	UserID    string // caller identity; empty when the caller is anonymous
	Subject   SubjectRef
	Amount    decimal.Decimal
	Type      TxType
	Accepted  bool
	Meta      Meta
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SelectStrategy names how a transaction is chosen when a subject has many.
type SelectStrategy string

const (
	// SelectFirst picks the oldest transaction of the subject.
	SelectFirst SelectStrategy = "first"
	// SelectLatest picks the most recent transaction of the subject.
	SelectLatest SelectStrategy = "latest"
	// SelectByID picks the transaction with the given identifier.
	SelectByID SelectStrategy = "by_id"
)

// Selector makes the record choice of the meta operations explicit instead of
// silently updating an arbitrary transaction.
type Selector struct {
	Strategy      SelectStrategy
	TransactionID string // required for SelectByID
}

// First selects the oldest transaction of a subject.
func First() Selector { return Selector{Strategy: SelectFirst} }

// Latest selects the most recent transaction of a subject.
func Latest() Selector { return Selector{Strategy: SelectLatest} }

// ByID selects one specific transaction.
func ByID(id string) Selector {
	return Selector{Strategy: SelectByID, TransactionID: id}
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Deposit and Withdraw each execute as one atomic unit: the balance read,
// the ceiling check, the balance write and the transaction insert all commit
// or none do, and concurrent calls against the same wallet serialize.
type Ledger interface {
	// EnsureWallet returns the owner's wallet, creating a zero-balance wallet
	// with the given ceiling on first access.
	EnsureWallet(ctx context.Context, owner SubjectRef, ceiling decimal.Decimal) (Wallet, error)

	// WalletByOwner fetches the owner's wallet without creating one.
	WalletByOwner(ctx context.Context, owner SubjectRef) (Wallet, error)

	// Wallet fetches a wallet by identifier.
	Wallet(ctx context.Context, id string) (Wallet, error)

	// Deposit credits the wallet and records an accepted deposit transaction.
	Deposit(ctx context.Context, walletID string, amount decimal.Decimal, meta Meta, callerID string) (Transaction, error)

	// Withdraw debits the wallet when balance+ceiling covers the amount.
	// A rejected withdrawal leaves the balance untouched but still records a
	// transaction with Accepted=false; rejection is not an error.
	Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, meta Meta, callerID string) (Transaction, error)

	// TransactionsBySubject lists the subject's transactions oldest first.
	TransactionsBySubject(ctx context.Context, subject SubjectRef) ([]Transaction, error)

	// SelectTransaction resolves one transaction of the subject per the selector.
	SelectTransaction(ctx context.Context, subject SubjectRef, sel Selector) (Transaction, error)

	// MergeMeta shallow-merges newMeta into the transaction's meta document
	// and persists immediately. Later keys overwrite same-named keys.
	MergeMeta(ctx context.Context, transactionID string, newMeta Meta) (Transaction, error)

	// ResetMeta replaces the transaction's meta with an empty document.
	ResetMeta(ctx context.Context, transactionID string) (Transaction, error)
}
