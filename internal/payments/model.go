package payments

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
)

var (
	// ErrDuplicateAuthority indicates a payment with the same (amount, authority)
	// pair already exists.
	ErrDuplicateAuthority = errors.New("duplicate authority for amount")

	// ErrAuthorityNotFound indicates no payment matches the authority token.
	// Gateway callbacks may legitimately race or duplicate, so lookups surface
	// this as an outcome rather than a panic-worthy failure.
	ErrAuthorityNotFound = errors.New("authority not found")
)

// Payment tracks one external-gateway payment attempt, correlated by the
// gateway-issued authority token and linked one-to-one with a pending
// ledger transaction.
type Payment struct {
	ID          string
	Subject     *ledger.SubjectRef // payer entity, nil when anonymous
	Amount      decimal.Decimal
	Authority   string
	RefID       string // gateway transaction reference, empty until callback
	StatusCode  string // gateway result code, empty until callback
	Gateway     string
	PayedAt     *time.Time
	Transaction ledger.Transaction // the linked pending/accepted record
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPayed reports whether the payment has been confirmed by the gateway.
func (p Payment) IsPayed() bool {
	return p.PayedAt != nil
}

// SubjectRef returns the tagged reference pointing at this payment, used as
// the subject of its linked transaction.
func (p Payment) SubjectRef() ledger.SubjectRef {
	return ledger.SubjectRef{Kind: ledger.SubjectPayment, ID: p.ID}
}

// Repository persists payments together with their linked transaction.
// Create and Confirm are atomic units: the payment row and the transaction
// row change together or not at all.
type Repository interface {
	// Create inserts the payment and its pending transaction. The
	// (amount, authority) pair is unique; violations fail with
	// ErrDuplicateAuthority.
	Create(ctx context.Context, payment Payment) (Payment, error)

	// FindByAuthority returns the oldest payment matching the authority with
	// its linked transaction attached, or ErrAuthorityNotFound.
	FindByAuthority(ctx context.Context, authority string) (Payment, error)

	// Confirm marks the payment paid: ref_id, status_code and payed_at are
	// set and the linked transaction flips to accepted. Confirming an
	// already-paid payment is a no-op returning the stored state.
	Confirm(ctx context.Context, authority, refID, statusCode string, paidAt time.Time) (Payment, error)

	// RecordFailure stores the gateway status code and, when message is
	// non-empty, merges {"message": message} into the linked transaction's
	// meta. payed_at and accepted stay untouched.
	RecordFailure(ctx context.Context, authority, statusCode, message string) (Payment, error)

	// MergeMeta layers newMeta over the linked transaction's meta document.
	MergeMeta(ctx context.Context, authority string, newMeta ledger.Meta) (Payment, error)

	// ResetMeta replaces the linked transaction's meta with an empty document.
	ResetMeta(ctx context.Context, authority string) (Payment, error)
}
