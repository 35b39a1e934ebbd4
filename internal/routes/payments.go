package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ars-cashier/cashier/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. The gateway callback pair
// is rate limited instead of idempotency-guarded: gateways retry on their
// own schedule and never send idempotency keys.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idem, callbackLimiter fiber.Handler) {
	r.Post("/payments/request", idem, h.RequestPay)
	r.Post("/payments/callback/success", callbackLimiter, h.ResultSuccess)
	r.Post("/payments/callback/failure", callbackLimiter, h.ResultFailure)
	r.Get("/payments/:authority", h.Find)
	r.Get("/payments/:authority/meta", h.GetMeta)
	r.Post("/payments/:authority/meta", idem, h.AddMeta)
	r.Delete("/payments/:authority/meta", h.ResetMeta)
}
