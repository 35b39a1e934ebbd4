package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet  // keyed by wallet ID
	ownerIndex   map[string]string  // owner key -> wallet ID
	transactions []Transaction      // insertion order = creation order
	byID         map[string]int     // transaction ID -> index into transactions
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		wallets:    make(map[string]Wallet),
		ownerIndex: make(map[string]string),
		byID:       make(map[string]int),
	}
}

func ownerKey(owner SubjectRef) string {
	return string(owner.Kind) + ":" + owner.ID
}

func (l *inMemoryLedger) EnsureWallet(_ context.Context, owner SubjectRef, ceiling decimal.Decimal) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, exists := l.ownerIndex[ownerKey(owner)]; exists {
		return l.wallets[id], nil
	}

	now := time.Now().UTC()
	w := Wallet{
		ID:              uuid.NewString(),
		Owner:           owner,
		Balance:         decimal.Zero,
		CeilingWithdraw: ceiling,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	l.wallets[w.ID] = w
	l.ownerIndex[ownerKey(owner)] = w.ID
	return w, nil
}

func (l *inMemoryLedger) WalletByOwner(_ context.Context, owner SubjectRef) (Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, exists := l.ownerIndex[ownerKey(owner)]
	if !exists {
		return Wallet{}, ErrWalletNotFound
	}
	return l.wallets[id], nil
}

func (l *inMemoryLedger) Wallet(_ context.Context, id string) (Wallet, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, exists := l.wallets[id]
	if !exists {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (l *inMemoryLedger) Deposit(_ context.Context, walletID string, amount decimal.Decimal, meta Meta, callerID string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrAmountNotPositive
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.wallets[walletID]
	if !exists {
		return Transaction{}, ErrWalletNotFound
	}

	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	l.wallets[walletID] = w

	return l.appendTransaction(walletID, amount, TypeDeposit, true, meta, callerID), nil
}

func (l *inMemoryLedger) Withdraw(_ context.Context, walletID string, amount decimal.Decimal, meta Meta, callerID string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrAmountNotPositive
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.wallets[walletID]
	if !exists {
		return Transaction{}, ErrWalletNotFound
	}

	accepted := w.CanWithdraw(amount)
	if accepted {
		w.Balance = w.Balance.Sub(amount)
		w.UpdatedAt = time.Now().UTC()
		l.wallets[walletID] = w
	}

	return l.appendTransaction(walletID, amount, TypeWithdraw, accepted, meta, callerID), nil
}

// appendTransaction must be called with the write lock held.
func (l *inMemoryLedger) appendTransaction(walletID string, amount decimal.Decimal, typ TxType, accepted bool, meta Meta, callerID string) Transaction {
	now := time.Now().UTC()
	record := Transaction{
		ID:        uuid.NewString(),
		UserID:    callerID,
		Subject:   SubjectRef{Kind: SubjectWallet, ID: walletID},
		Amount:    amount,
		Type:      typ,
		Accepted:  accepted,
		Meta:      meta.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.byID[record.ID] = len(l.transactions)
	l.transactions = append(l.transactions, record)
	return record
}

func (l *inMemoryLedger) TransactionsBySubject(_ context.Context, subject SubjectRef) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []Transaction
	for _, t := range l.transactions {
		if t.Subject == subject {
			records = append(records, t)
		}
	}
	return records, nil
}

func (l *inMemoryLedger) SelectTransaction(_ context.Context, subject SubjectRef, sel Selector) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.selectLocked(subject, sel)
}

func (l *inMemoryLedger) selectLocked(subject SubjectRef, sel Selector) (Transaction, error) {
	if sel.Strategy == SelectByID {
		idx, exists := l.byID[sel.TransactionID]
		if !exists || l.transactions[idx].Subject != subject {
			return Transaction{}, ErrTransactionNotFound
		}
		return l.transactions[idx], nil
	}

	if sel.Strategy == SelectLatest {
		for i := len(l.transactions) - 1; i >= 0; i-- {
			if l.transactions[i].Subject == subject {
				return l.transactions[i], nil
			}
		}
		return Transaction{}, ErrTransactionNotFound
	}

	for _, t := range l.transactions {
		if t.Subject == subject {
			return t, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (l *inMemoryLedger) MergeMeta(_ context.Context, transactionID string, newMeta Meta) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, exists := l.byID[transactionID]
	if !exists {
		return Transaction{}, ErrTransactionNotFound
	}

	record := l.transactions[idx]
	record.Meta = record.Meta.Merge(newMeta)
	record.UpdatedAt = time.Now().UTC()
	l.transactions[idx] = record
	return record, nil
}

func (l *inMemoryLedger) ResetMeta(_ context.Context, transactionID string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, exists := l.byID[transactionID]
	if !exists {
		return Transaction{}, ErrTransactionNotFound
	}

	record := l.transactions[idx]
	record.Meta = Meta{}
	record.UpdatedAt = time.Now().UTC()
	l.transactions[idx] = record
	return record, nil
}
