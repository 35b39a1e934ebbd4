package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
	"github.com/ars-cashier/cashier/internal/notification"
)

// Service drives the payment reconciliation flow: a payment starts pending,
// then a gateway callback either confirms it or records the failure.
type Service struct {
	repo     Repository
	gateway  Gateway
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service. A nil gateway falls back to the
// static stub.
func NewService(repo Repository, gateway Gateway, notifier notification.Notifier, logger *slog.Logger) *Service {
	if gateway == nil {
		gateway = StaticGateway{}
	}
	return &Service{repo: repo, gateway: gateway, notifier: notifier, logger: logger}
}

// RequestPayInput captures the data needed to start a gateway payment.
type RequestPayInput struct {
	Subject   *ledger.SubjectRef
	Amount    decimal.Decimal
	Authority string // gateway-issued; requested from the connector when empty
	RefID     string
	Meta      ledger.Meta
	CallerID  string
}

// RequestPay atomically creates a pending payment and its linked pending
// deposit transaction.
func (s *Service) RequestPay(ctx context.Context, input RequestPayInput) (Payment, error) {
	if !input.Amount.IsPositive() {
		return Payment{}, ledger.ErrAmountNotPositive
	}

	authority := input.Authority
	if authority == "" {
		var err error
		if authority, err = s.gateway.RequestAuthority(ctx, input.Amount); err != nil {
			return Payment{}, fmt.Errorf("request authority: %w", err)
		}
	}

	payment := Payment{
		ID:        uuid.NewString(),
		Subject:   input.Subject,
		Amount:    input.Amount,
		Authority: authority,
		RefID:     input.RefID,
		Gateway:   s.gateway.Name(),
		Transaction: ledger.Transaction{
			ID:       uuid.NewString(),
			UserID:   input.CallerID,
			Amount:   input.Amount,
			Type:     ledger.TypeDeposit,
			Accepted: false,
			Meta:     input.Meta,
		},
	}
	payment.Transaction.Subject = payment.SubjectRef()

	return s.repo.Create(ctx, payment)
}

// ResultSuccessPay confirms the payment matching the authority: ref_id and
// status_code are stored, payed_at is stamped and the linked transaction
// flips to accepted. Duplicate confirmations are idempotent.
func (s *Service) ResultSuccessPay(ctx context.Context, authority, statusCode, refID string) (Payment, error) {
	payment, err := s.repo.Confirm(ctx, authority, refID, statusCode, time.Now().UTC())
	if err != nil {
		return Payment{}, err
	}

	if s.logger != nil {
		s.logger.Info("payment confirmed", "authority", payment.Authority, "gateway", payment.Gateway, "ref_id", payment.RefID)
	}

	if s.notifier != nil {
		destination := ""
		if payment.Subject != nil {
			destination = payment.Subject.ID
		}
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPaymentConfirmed,
			Destination: destination,
			Body:        fmt.Sprintf("Payment %s confirmed via %s", payment.Authority, payment.Gateway),
		})
	}

	return payment, nil
}

// ResultFailedPay records a failed gateway callback: the status code is
// stored and the optional message merges into the linked transaction's meta.
// The payment stays unconfirmed.
func (s *Service) ResultFailedPay(ctx context.Context, authority, statusCode, message string) (Payment, error) {
	payment, err := s.repo.RecordFailure(ctx, authority, statusCode, message)
	if err != nil {
		return Payment{}, err
	}
	if s.logger != nil {
		s.logger.Warn("payment failed", "authority", payment.Authority, "status_code", statusCode)
	}
	return payment, nil
}

// FindAuthority looks up a payment by authority token with its linked
// transaction attached.
func (s *Service) FindAuthority(ctx context.Context, authority string) (Payment, error) {
	return s.repo.FindByAuthority(ctx, authority)
}

// AddMeta merges newMeta into the payment's linked transaction meta.
func (s *Service) AddMeta(ctx context.Context, authority string, newMeta ledger.Meta) (Payment, error) {
	return s.repo.MergeMeta(ctx, authority, newMeta)
}

// ResetMeta empties the payment's linked transaction meta.
func (s *Service) ResetMeta(ctx context.Context, authority string) (Payment, error) {
	return s.repo.ResetMeta(ctx, authority)
}

// GetMeta reads the linked transaction's meta, or one key of it. A pure read.
func (s *Service) GetMeta(ctx context.Context, authority, key string) (any, error) {
	payment, err := s.repo.FindByAuthority(ctx, authority)
	if err != nil {
		return nil, err
	}
	if key != "" {
		return payment.Transaction.Meta.Get(key), nil
	}
	return payment.Transaction.Meta, nil
}
