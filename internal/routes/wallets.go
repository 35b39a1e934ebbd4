package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ars-cashier/cashier/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints. Balance-affecting
// mutations sit behind the idempotency middleware.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idem fiber.Handler) {
	r.Post("/wallets", idem, h.Ensure)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
	r.Post("/wallets/:walletId/deposit", idem, h.Deposit)
	r.Post("/wallets/:walletId/withdraw", idem, h.Withdraw)
	r.Get("/wallets/:walletId/meta", h.GetMeta)
	r.Post("/wallets/:walletId/meta", idem, h.AddMeta)
	r.Delete("/wallets/:walletId/meta", h.ResetMeta)
}
