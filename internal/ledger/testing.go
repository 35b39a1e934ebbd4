package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites a wallet's balance when using
// the in-memory ledger.
func SeedBalance(l Ledger, walletID string, balance decimal.Decimal) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.wallets[walletID]; exists {
			w.Balance = balance
			mem.wallets[walletID] = w
		}
	}
}

// SeedCeiling is a test helper that overrides a wallet's withdrawal ceiling
// when using the in-memory ledger.
func SeedCeiling(l Ledger, walletID string, ceiling decimal.Decimal) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.wallets[walletID]; exists {
			w.CeilingWithdraw = ceiling
			mem.wallets[walletID] = w
		}
	}
}
