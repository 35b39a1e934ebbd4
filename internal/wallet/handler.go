package wallet

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
)

const callerHeader = "X-Caller-ID"

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type ensureRequest struct {
	OwnerKind string `json:"owner_kind"`
	OwnerID   string `json:"owner_id"`
}

type operationRequest struct {
	Amount string         `json:"amount"` // decimal string, e.g. "120.5000"
	Meta   map[string]any `json:"meta"`
}

type metaRequest struct {
	Meta map[string]any `json:"meta"`
}

type walletResponse struct {
	ID              string `json:"id"`
	OwnerKind       string `json:"owner_kind"`
	OwnerID         string `json:"owner_id"`
	Balance         string `json:"balance"`
	CeilingWithdraw string `json:"ceiling_withdraw"`
}

type transactionResponse struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id,omitempty"`
	Amount   string         `json:"amount"`
	Type     string         `json:"type"`
	Accepted bool           `json:"accepted"`
	Meta     map[string]any `json:"meta,omitempty"`
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:              w.ID,
		OwnerKind:       string(w.Owner.Kind),
		OwnerID:         w.Owner.ID,
		Balance:         w.Balance.String(),
		CeilingWithdraw: w.CeilingWithdraw.String(),
	}
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:       t.ID,
		UserID:   t.UserID,
		Amount:   t.Amount.String(),
		Type:     string(t.Type),
		Accepted: t.Accepted,
		Meta:     t.Meta,
	}
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAmountNotPositive):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fiber.NewError(http.StatusBadRequest, "amount must be a decimal string")
	}
	return amount, nil
}

// parseSelector reads the explicit record selection of the meta operations
// from the query string. Defaults to the oldest transaction.
func parseSelector(c *fiber.Ctx) (ledger.Selector, error) {
	switch c.Query("selector", string(ledger.SelectFirst)) {
	case string(ledger.SelectFirst):
		return ledger.First(), nil
	case string(ledger.SelectLatest):
		return ledger.Latest(), nil
	case string(ledger.SelectByID):
		id := c.Query("transaction_id")
		if id == "" {
			return ledger.Selector{}, fiber.NewError(http.StatusBadRequest, "transaction_id is required for by_id selection")
		}
		return ledger.ByID(id), nil
	default:
		return ledger.Selector{}, fiber.NewError(http.StatusBadRequest, "unknown selector")
	}
}

// Ensure returns the owner's wallet, creating one on first access.
func (h *Handler) Ensure(c *fiber.Ctx) error {
	var req ensureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Ensure(c.UserContext(), ledger.SubjectRef{Kind: ledger.SubjectKind(req.OwnerKind), ID: req.OwnerID})
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Balance returns the wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id": balance.WalletID,
		"balance":   balance.Amount.String(),
		"timestamp": balance.AsOf,
	})
}

// Deposit credits the wallet and returns the recorded transaction.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.operation(c, h.service.Deposit)
}

// Withdraw debits the wallet, or records a rejected attempt.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.operation(c, h.service.Withdraw)
}

func (h *Handler) operation(c *fiber.Ctx, apply func(ctx context.Context, input OperationInput) (ledger.Transaction, error)) error {
	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}

	record, err := apply(c.UserContext(), OperationInput{
		WalletID: c.Params("walletId"),
		Amount:   amount,
		Meta:     ledger.Meta(req.Meta),
		CallerID: c.Get(callerHeader),
	})
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(record))
}

// Transactions lists the wallet's transactions oldest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	records, err := h.service.Transactions(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return mapLedgerError(err)
	}
	out := make([]transactionResponse, 0, len(records))
	for _, t := range records {
		out = append(out, toTransactionResponse(t))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// AddMeta merges the request meta into the selected transaction.
func (h *Handler) AddMeta(c *fiber.Ctx) error {
	sel, err := parseSelector(c)
	if err != nil {
		return err
	}
	var req metaRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	record, err := h.service.AddMeta(c.UserContext(), c.Params("walletId"), ledger.Meta(req.Meta), sel)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toTransactionResponse(record))
}

// ResetMeta empties the selected transaction's meta.
func (h *Handler) ResetMeta(c *fiber.Ctx) error {
	sel, err := parseSelector(c)
	if err != nil {
		return err
	}
	record, err := h.service.ResetMeta(c.UserContext(), c.Params("walletId"), sel)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(toTransactionResponse(record))
}

// GetMeta reads the selected transaction's meta, or one key of it.
func (h *Handler) GetMeta(c *fiber.Ctx) error {
	sel, err := parseSelector(c)
	if err != nil {
		return err
	}
	value, err := h.service.GetMeta(c.UserContext(), c.Params("walletId"), c.Query("key"), sel)
	if err != nil {
		return mapLedgerError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"meta": value})
}
