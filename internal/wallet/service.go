package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
	"github.com/ars-cashier/cashier/internal/notification"
)

// Service exposes the ledger engine for wallet owners: deposits, withdrawals,
// balance reads and the transaction meta operations. Caller identity is an
// explicit parameter on every mutation, never ambient state.
type Service struct {
	ledger         ledger.Ledger
	defaultCeiling decimal.Decimal
	notifier       notification.Notifier
}

// NewService builds a wallet service. defaultCeiling seeds the overdraft
// allowance of wallets created on first access.
func NewService(led ledger.Ledger, defaultCeiling decimal.Decimal, notifier notification.Notifier) *Service {
	return &Service{ledger: led, defaultCeiling: defaultCeiling, notifier: notifier}
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   decimal.Decimal
	AsOf     time.Time
}

// Ensure returns the owner's wallet, creating one with the configured default
// ceiling on first access.
func (s *Service) Ensure(ctx context.Context, owner ledger.SubjectRef) (ledger.Wallet, error) {
	if owner.Kind == "" || owner.ID == "" {
		return ledger.Wallet{}, fmt.Errorf("owner reference is required")
	}
	return s.ledger.EnsureWallet(ctx, owner, s.defaultCeiling)
}

// Get fetches a wallet by identifier.
func (s *Service) Get(ctx context.Context, id string) (ledger.Wallet, error) {
	return s.ledger.Wallet(ctx, id)
}

// Balance returns the current balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.ledger.Wallet(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: w.Balance, AsOf: time.Now().UTC()}, nil
}

// OperationInput captures one deposit or withdrawal request.
type OperationInput struct {
	WalletID string
	Amount   decimal.Decimal
	Meta     ledger.Meta
	CallerID string
}

// Deposit credits the wallet and returns the recorded transaction.
func (s *Service) Deposit(ctx context.Context, input OperationInput) (ledger.Transaction, error) {
	return s.ledger.Deposit(ctx, input.WalletID, input.Amount, input.Meta, input.CallerID)
}

// Withdraw debits the wallet when the ceiling rule allows it. Rejection is a
// normal outcome: the returned transaction carries Accepted=false.
func (s *Service) Withdraw(ctx context.Context, input OperationInput) (ledger.Transaction, error) {
	record, err := s.ledger.Withdraw(ctx, input.WalletID, input.Amount, input.Meta, input.CallerID)
	if err != nil {
		return ledger.Transaction{}, err
	}

	if !record.Accepted && s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindWithdrawRejected,
			Destination: input.CallerID,
			Body:        fmt.Sprintf("Withdrawal of %s from wallet %s was rejected", input.Amount, input.WalletID),
		})
	}

	return record, nil
}

// Transactions lists the wallet's transactions oldest first.
func (s *Service) Transactions(ctx context.Context, walletID string) ([]ledger.Transaction, error) {
	return s.ledger.TransactionsBySubject(ctx, subjectOf(walletID))
}

// AddMeta merges newMeta into the selected transaction's meta document.
func (s *Service) AddMeta(ctx context.Context, walletID string, newMeta ledger.Meta, sel ledger.Selector) (ledger.Transaction, error) {
	record, err := s.ledger.SelectTransaction(ctx, subjectOf(walletID), sel)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.ledger.MergeMeta(ctx, record.ID, newMeta)
}

// ResetMeta empties the selected transaction's meta document.
func (s *Service) ResetMeta(ctx context.Context, walletID string, sel ledger.Selector) (ledger.Transaction, error) {
	record, err := s.ledger.SelectTransaction(ctx, subjectOf(walletID), sel)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.ledger.ResetMeta(ctx, record.ID)
}

// GetMeta reads the selected transaction's meta, or one key of it. A pure read.
func (s *Service) GetMeta(ctx context.Context, walletID, key string, sel ledger.Selector) (any, error) {
	record, err := s.ledger.SelectTransaction(ctx, subjectOf(walletID), sel)
	if err != nil {
		return nil, err
	}
	if key != "" {
		return record.Meta.Get(key), nil
	}
	return record.Meta, nil
}

func subjectOf(walletID string) ledger.SubjectRef {
	return ledger.SubjectRef{Kind: ledger.SubjectWallet, ID: walletID}
}
