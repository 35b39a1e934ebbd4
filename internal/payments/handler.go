package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
)

const callerHeader = "X-Caller-ID"

// Handler exposes payment endpoints, including the gateway callback surface.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type requestPayRequest struct {
	OwnerKind string         `json:"owner_kind"`
	OwnerID   string         `json:"owner_id"`
	Amount    string         `json:"amount"` // decimal string
	Authority string         `json:"authority"`
	RefID     string         `json:"ref_id"`
	Meta      map[string]any `json:"meta"`
}

type callbackRequest struct {
	Authority  string `json:"authority"`
	StatusCode string `json:"status_code"`
	RefID      string `json:"ref_id"`
	Message    string `json:"message"`
}

type metaRequest struct {
	Meta map[string]any `json:"meta"`
}

type paymentResponse struct {
	ID          string         `json:"id"`
	OwnerKind   string         `json:"owner_kind,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	Amount      string         `json:"amount"`
	Authority   string         `json:"authority"`
	RefID       string         `json:"ref_id,omitempty"`
	StatusCode  string         `json:"status_code,omitempty"`
	Gateway     string         `json:"gateway"`
	PayedAt     *time.Time     `json:"payed_at"`
	Accepted    bool           `json:"accepted"`
	Meta        map[string]any `json:"meta,omitempty"`
	Transaction string         `json:"transaction_id"`
}

func toPaymentResponse(p Payment) paymentResponse {
	resp := paymentResponse{
		ID:          p.ID,
		Amount:      p.Amount.String(),
		Authority:   p.Authority,
		RefID:       p.RefID,
		StatusCode:  p.StatusCode,
		Gateway:     p.Gateway,
		PayedAt:     p.PayedAt,
		Accepted:    p.Transaction.Accepted,
		Meta:        p.Transaction.Meta,
		Transaction: p.Transaction.ID,
	}
	if p.Subject != nil {
		resp.OwnerKind = string(p.Subject.Kind)
		resp.OwnerID = p.Subject.ID
	}
	return resp
}

func mapPaymentError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAmountNotPositive):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateAuthority):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAuthorityNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// RequestPay starts a gateway payment: a pending payment plus its pending
// deposit transaction.
func (h *Handler) RequestPay(c *fiber.Ctx) error {
	var req requestPayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "amount must be a decimal string")
	}

	var subject *ledger.SubjectRef
	if req.OwnerKind != "" && req.OwnerID != "" {
		subject = &ledger.SubjectRef{Kind: ledger.SubjectKind(req.OwnerKind), ID: req.OwnerID}
	}

	payment, err := h.service.RequestPay(c.UserContext(), RequestPayInput{
		Subject:   subject,
		Amount:    amount,
		Authority: req.Authority,
		RefID:     req.RefID,
		Meta:      ledger.Meta(req.Meta),
		CallerID:  c.Get(callerHeader),
	})
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusCreated).JSON(toPaymentResponse(payment))
}

// ResultSuccess handles the gateway's success callback.
func (h *Handler) ResultSuccess(c *fiber.Ctx) error {
	var req callbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	payment, err := h.service.ResultSuccessPay(c.UserContext(), req.Authority, req.StatusCode, req.RefID)
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(payment))
}

// ResultFailure handles the gateway's failure callback.
func (h *Handler) ResultFailure(c *fiber.Ctx) error {
	var req callbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	payment, err := h.service.ResultFailedPay(c.UserContext(), req.Authority, req.StatusCode, req.Message)
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(payment))
}

// Find returns the payment matching the authority token.
func (h *Handler) Find(c *fiber.Ctx) error {
	payment, err := h.service.FindAuthority(c.UserContext(), c.Params("authority"))
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(payment))
}

// AddMeta merges the request meta into the payment's linked transaction.
func (h *Handler) AddMeta(c *fiber.Ctx) error {
	var req metaRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	payment, err := h.service.AddMeta(c.UserContext(), c.Params("authority"), ledger.Meta(req.Meta))
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(payment))
}

// ResetMeta empties the payment's linked transaction meta.
func (h *Handler) ResetMeta(c *fiber.Ctx) error {
	payment, err := h.service.ResetMeta(c.UserContext(), c.Params("authority"))
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusOK).JSON(toPaymentResponse(payment))
}

// GetMeta reads the linked transaction's meta, or one key of it.
func (h *Handler) GetMeta(c *fiber.Ctx) error {
	value, err := h.service.GetMeta(c.UserContext(), c.Params("authority"), c.Query("key"))
	if err != nil {
		return mapPaymentError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"meta": value})
}
