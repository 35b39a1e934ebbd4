package payments

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/ars-cashier/cashier/internal/logging"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()
	svc := NewService(NewMemoryRepository(), StaticGateway{GatewayName: "testpay"}, nil, logging.Discard())
	h := NewHandler(svc)

	app := fiber.New()
	app.Post("/payments/request", h.RequestPay)
	app.Post("/payments/callback/success", h.ResultSuccess)
	app.Post("/payments/callback/failure", h.ResultFailure)
	app.Get("/payments/:authority", h.Find)
	app.Get("/payments/:authority/meta", h.GetMeta)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(callerHeader, "user-1")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestHandlerRequestAndSuccessCallback(t *testing.T) {
	app := setupTestApp(t)

	status, created := doJSON(t, app, fiber.MethodPost, "/payments/request",
		`{"owner_kind":"user","owner_id":"user-1","amount":"50","authority":"AUTH1","meta":{"order":"42"}}`)
	if status != fiber.StatusCreated {
		t.Fatalf("request pay: status %d body %v", status, created)
	}
	if created["accepted"] != false || created["payed_at"] != nil {
		t.Fatalf("new payment must be pending: %v", created)
	}
	if created["gateway"] != "testpay" {
		t.Fatalf("gateway stamp missing: %v", created)
	}

	status, confirmed := doJSON(t, app, fiber.MethodPost, "/payments/callback/success",
		`{"authority":"AUTH1","status_code":"100","ref_id":"REF-9"}`)
	if status != fiber.StatusOK {
		t.Fatalf("success callback: status %d body %v", status, confirmed)
	}
	if confirmed["accepted"] != true || confirmed["payed_at"] == nil {
		t.Fatalf("confirmation not applied: %v", confirmed)
	}
	if confirmed["ref_id"] != "REF-9" {
		t.Fatalf("ref_id not stored: %v", confirmed)
	}
}

func TestHandlerFailureCallbackKeepsPaymentPending(t *testing.T) {
	app := setupTestApp(t)

	doJSON(t, app, fiber.MethodPost, "/payments/request", `{"amount":"30","authority":"AUTH2"}`)

	status, failed := doJSON(t, app, fiber.MethodPost, "/payments/callback/failure",
		`{"authority":"AUTH2","status_code":"E01","message":"insufficient funds"}`)
	if status != fiber.StatusOK {
		t.Fatalf("failure callback: status %d body %v", status, failed)
	}
	if failed["payed_at"] != nil || failed["accepted"] != false {
		t.Fatalf("failure must keep payment pending: %v", failed)
	}

	status, meta := doJSON(t, app, fiber.MethodGet, "/payments/AUTH2/meta?key=message", "")
	if status != fiber.StatusOK {
		t.Fatalf("get meta: status %d", status)
	}
	if meta["meta"] != "insufficient funds" {
		t.Fatalf("failure message missing from meta: %v", meta)
	}
}

func TestHandlerDuplicateAuthorityIsConflict(t *testing.T) {
	app := setupTestApp(t)

	doJSON(t, app, fiber.MethodPost, "/payments/request", `{"amount":"50","authority":"AUTH1"}`)

	status, _ := doJSON(t, app, fiber.MethodPost, "/payments/request", `{"amount":"50","authority":"AUTH1"}`)
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409 for duplicate pair, got %d", status)
	}
}

func TestHandlerUnknownAuthorityIs404(t *testing.T) {
	app := setupTestApp(t)

	status, _ := doJSON(t, app, fiber.MethodGet, "/payments/MISSING", "")
	if status != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}
