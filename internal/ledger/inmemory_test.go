package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestWallet(t *testing.T, l Ledger, balance, ceiling string) Wallet {
	t.Helper()
	owner := SubjectRef{Kind: SubjectUser, ID: t.Name()}
	w, err := l.EnsureWallet(context.Background(), owner, dec(ceiling))
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	SeedBalance(l, w.ID, dec(balance))
	return w
}

func TestInMemoryLedger_EnsureWalletIsIdempotent(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	owner := SubjectRef{Kind: SubjectUser, ID: "owner-1"}

	first, err := l.EnsureWallet(ctx, owner, dec("5"))
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	second, err := l.EnsureWallet(ctx, owner, dec("99"))
	if err != nil {
		t.Fatalf("ensure wallet again: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same wallet, got %s and %s", first.ID, second.ID)
	}
	if !second.CeilingWithdraw.Equal(dec("5")) {
		t.Fatalf("ceiling changed on re-ensure: %s", second.CeilingWithdraw)
	}
}

func TestInMemoryLedger_DepositIncreasesBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "0")

	record, err := l.Deposit(ctx, w.ID, dec("25.5000"), Meta{"source": "test"}, "caller-1")
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if record.Type != TypeDeposit || !record.Accepted {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !record.Amount.Equal(dec("25.5")) {
		t.Fatalf("expected amount 25.5, got %s", record.Amount)
	}
	if record.UserID != "caller-1" {
		t.Fatalf("expected caller stamp, got %q", record.UserID)
	}

	updated, err := l.Wallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !updated.Balance.Equal(dec("125.5")) {
		t.Fatalf("expected balance 125.5, got %s", updated.Balance)
	}
}

func TestInMemoryLedger_WithdrawWithinCeiling(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "20")

	record, err := l.Withdraw(ctx, w.ID, dec("110"), nil, "")
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !record.Accepted {
		t.Fatalf("expected withdrawal within ceiling to be accepted")
	}

	updated, _ := l.Wallet(ctx, w.ID)
	if !updated.Balance.Equal(dec("-10")) {
		t.Fatalf("expected balance -10, got %s", updated.Balance)
	}
}

func TestInMemoryLedger_WithdrawRejectedButRecorded(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "20")

	record, err := l.Withdraw(ctx, w.ID, dec("150"), nil, "")
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if record.Accepted {
		t.Fatalf("expected withdrawal over ceiling to be rejected")
	}
	if record.Type != TypeWithdraw {
		t.Fatalf("unexpected type %s", record.Type)
	}

	updated, _ := l.Wallet(ctx, w.ID)
	if !updated.Balance.Equal(dec("100")) {
		t.Fatalf("rejected withdrawal mutated balance: %s", updated.Balance)
	}

	records, _ := l.TransactionsBySubject(ctx, SubjectRef{Kind: SubjectWallet, ID: w.ID})
	if len(records) != 1 {
		t.Fatalf("rejection was not recorded, %d transactions", len(records))
	}
}

func TestInMemoryLedger_AmountMustBePositive(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "0")

	if _, err := l.Deposit(ctx, w.ID, dec("0"), nil, ""); err != ErrAmountNotPositive {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
	if _, err := l.Withdraw(ctx, w.ID, dec("-5"), nil, ""); err != ErrAmountNotPositive {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}

	records, _ := l.TransactionsBySubject(ctx, SubjectRef{Kind: SubjectWallet, ID: w.ID})
	if len(records) != 0 {
		t.Fatalf("validation failure must not write records, got %d", len(records))
	}
}

func TestInMemoryLedger_MetaMergeAndReset(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "0")

	record, err := l.Deposit(ctx, w.ID, dec("1"), Meta{"a": 1}, "")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	merged, err := l.MergeMeta(ctx, record.ID, Meta{"b": 2})
	if err != nil {
		t.Fatalf("merge meta: %v", err)
	}
	if merged.Meta["a"] != 1 || merged.Meta["b"] != 2 {
		t.Fatalf("unexpected meta after merge: %v", merged.Meta)
	}

	merged, err = l.MergeMeta(ctx, record.ID, Meta{"a": "overwritten"})
	if err != nil {
		t.Fatalf("merge meta: %v", err)
	}
	if merged.Meta["a"] != "overwritten" || merged.Meta["b"] != 2 {
		t.Fatalf("merge must overwrite same keys and retain others: %v", merged.Meta)
	}

	reset, err := l.ResetMeta(ctx, record.ID)
	if err != nil {
		t.Fatalf("reset meta: %v", err)
	}
	if len(reset.Meta) != 0 {
		t.Fatalf("expected empty meta after reset, got %v", reset.Meta)
	}
}

func TestInMemoryLedger_SelectTransaction(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "0")
	subject := SubjectRef{Kind: SubjectWallet, ID: w.ID}

	first, _ := l.Deposit(ctx, w.ID, dec("1"), nil, "")
	second, _ := l.Deposit(ctx, w.ID, dec("2"), nil, "")

	got, err := l.SelectTransaction(ctx, subject, First())
	if err != nil || got.ID != first.ID {
		t.Fatalf("expected first record %s, got %s (%v)", first.ID, got.ID, err)
	}

	got, err = l.SelectTransaction(ctx, subject, Latest())
	if err != nil || got.ID != second.ID {
		t.Fatalf("expected latest record %s, got %s (%v)", second.ID, got.ID, err)
	}

	got, err = l.SelectTransaction(ctx, subject, ByID(first.ID))
	if err != nil || got.ID != first.ID {
		t.Fatalf("expected record by id %s, got %s (%v)", first.ID, got.ID, err)
	}

	if _, err := l.SelectTransaction(ctx, subject, ByID("missing")); err != ErrTransactionNotFound {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestInMemoryLedger_ConcurrentWithdrawals(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l, "100", "0")

	const workers = 2
	amount := dec("80")

	var wg sync.WaitGroup
	results := make([]Transaction, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := l.Withdraw(ctx, w.ID, amount, nil, "")
			if err != nil {
				t.Errorf("withdraw %d failed: %v", i, err)
				return
			}
			results[i] = record
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.Accepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted withdrawal, got %d", accepted)
	}

	updated, _ := l.Wallet(ctx, w.ID)
	if !updated.Balance.Equal(dec("20")) {
		t.Fatalf("expected final balance 20, got %s", updated.Balance)
	}
}
