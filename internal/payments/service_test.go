package payments

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ars-cashier/cashier/internal/ledger"
	"github.com/ars-cashier/cashier/internal/logging"
	"github.com/ars-cashier/cashier/internal/notification"
)

type testNotifier struct {
	last notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.last = msg
	return nil
}

func newTestService(notifier notification.Notifier) *Service {
	return NewService(NewMemoryRepository(), StaticGateway{GatewayName: "testpay"}, notifier, logging.Discard())
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestRequestPayCreatesPendingPayment(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	subject := &ledger.SubjectRef{Kind: ledger.SubjectUser, ID: "user-1"}
	payment, err := svc.RequestPay(ctx, RequestPayInput{
		Subject:   subject,
		Amount:    dec(t, "50"),
		Authority: "AUTH1",
		Meta:      ledger.Meta{"order": "42"},
		CallerID:  "user-1",
	})
	if err != nil {
		t.Fatalf("request pay: %v", err)
	}

	if payment.IsPayed() {
		t.Fatalf("new payment must be pending")
	}
	if payment.Gateway != "testpay" {
		t.Fatalf("expected gateway stamp, got %q", payment.Gateway)
	}
	if payment.Transaction.Accepted {
		t.Fatalf("linked transaction must start pending")
	}
	if payment.Transaction.Type != ledger.TypeDeposit {
		t.Fatalf("linked transaction must be a deposit, got %s", payment.Transaction.Type)
	}
	if payment.Transaction.Meta["order"] != "42" {
		t.Fatalf("meta not carried: %v", payment.Transaction.Meta)
	}
}

func TestRequestPayRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(nil)
	if _, err := svc.RequestPay(context.Background(), RequestPayInput{Amount: dec(t, "0"), Authority: "AUTH1"}); err != ledger.ErrAmountNotPositive {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
}

func TestRequestPayDuplicateAuthorityConflicts(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	if _, err := svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "50"), Authority: "AUTH1"}); err != nil {
		t.Fatalf("request pay: %v", err)
	}
	if _, err := svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "50"), Authority: "AUTH1"}); err != ErrDuplicateAuthority {
		t.Fatalf("expected ErrDuplicateAuthority, got %v", err)
	}

	// different amount for the same authority remains a distinct pair
	if _, err := svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "60"), Authority: "AUTH1"}); err != nil {
		t.Fatalf("distinct (amount, authority) pair rejected: %v", err)
	}
}

func TestRequestPayAsksGatewayWhenAuthorityMissing(t *testing.T) {
	svc := newTestService(nil)

	payment, err := svc.RequestPay(context.Background(), RequestPayInput{Amount: dec(t, "10")})
	if err != nil {
		t.Fatalf("request pay: %v", err)
	}
	if payment.Authority == "" {
		t.Fatalf("expected gateway-issued authority")
	}
}

func TestResultSuccessPayConfirms(t *testing.T) {
	notifier := &testNotifier{}
	svc := newTestService(notifier)
	ctx := context.Background()

	subject := &ledger.SubjectRef{Kind: ledger.SubjectUser, ID: "user-1"}
	if _, err := svc.RequestPay(ctx, RequestPayInput{Subject: subject, Amount: dec(t, "50"), Authority: "AUTH1"}); err != nil {
		t.Fatalf("request pay: %v", err)
	}

	payment, err := svc.ResultSuccessPay(ctx, "AUTH1", "100", "REF-9")
	if err != nil {
		t.Fatalf("result success: %v", err)
	}

	if !payment.IsPayed() {
		t.Fatalf("expected payed_at to be set")
	}
	if payment.RefID != "REF-9" || payment.StatusCode != "100" {
		t.Fatalf("gateway references not stored: %+v", payment)
	}
	if !payment.Transaction.Accepted {
		t.Fatalf("linked transaction must flip to accepted")
	}
	if notifier.last.Kind != notification.KindPaymentConfirmed {
		t.Fatalf("expected confirmation notification, got %+v", notifier.last)
	}
}

func TestResultSuccessPayIsIdempotent(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "50"), Authority: "AUTH1"})

	first, err := svc.ResultSuccessPay(ctx, "AUTH1", "100", "REF-1")
	if err != nil {
		t.Fatalf("result success: %v", err)
	}
	second, err := svc.ResultSuccessPay(ctx, "AUTH1", "200", "REF-2")
	if err != nil {
		t.Fatalf("duplicate result success: %v", err)
	}

	if second.RefID != first.RefID || !second.PayedAt.Equal(*first.PayedAt) {
		t.Fatalf("confirmed payment must not transition again: %+v vs %+v", first, second)
	}
}

func TestResultSuccessPayUnknownAuthority(t *testing.T) {
	svc := newTestService(nil)
	if _, err := svc.ResultSuccessPay(context.Background(), "MISSING", "", ""); err != ErrAuthorityNotFound {
		t.Fatalf("expected ErrAuthorityNotFound, got %v", err)
	}
}

func TestResultFailedPayRecordsFailure(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "30"), Authority: "AUTH2"})

	payment, err := svc.ResultFailedPay(ctx, "AUTH2", "E01", "insufficient funds")
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}

	if payment.IsPayed() {
		t.Fatalf("failed payment must stay unconfirmed")
	}
	if payment.StatusCode != "E01" {
		t.Fatalf("expected status code E01, got %q", payment.StatusCode)
	}
	if payment.Transaction.Accepted {
		t.Fatalf("failure must not accept the linked transaction")
	}
	if payment.Transaction.Meta["message"] != "insufficient funds" {
		t.Fatalf("failure message not merged: %v", payment.Transaction.Meta)
	}
}

func TestFindAuthorityAttachesTransaction(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	created, _ := svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "30"), Authority: "AUTH2", Meta: ledger.Meta{"k": "v"}})

	payment, err := svc.FindAuthority(ctx, "AUTH2")
	if err != nil {
		t.Fatalf("find authority: %v", err)
	}
	if payment.Transaction.ID != created.Transaction.ID {
		t.Fatalf("linked transaction not attached")
	}
	if payment.Transaction.Meta["k"] != "v" {
		t.Fatalf("linked transaction meta missing: %v", payment.Transaction.Meta)
	}
}

func TestPaymentMetaOperations(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()

	svc.RequestPay(ctx, RequestPayInput{Amount: dec(t, "10"), Authority: "AUTH3", Meta: ledger.Meta{"a": 1}})

	if _, err := svc.AddMeta(ctx, "AUTH3", ledger.Meta{"b": 2}); err != nil {
		t.Fatalf("add meta: %v", err)
	}

	value, err := svc.GetMeta(ctx, "AUTH3", "")
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	meta, _ := value.(ledger.Meta)
	if meta["a"] != 1 || meta["b"] != 2 {
		t.Fatalf("unexpected meta: %v", meta)
	}

	if _, err := svc.ResetMeta(ctx, "AUTH3"); err != nil {
		t.Fatalf("reset meta: %v", err)
	}
	value, _ = svc.GetMeta(ctx, "AUTH3", "")
	if m, _ := value.(ledger.Meta); len(m) != 0 {
		t.Fatalf("expected empty meta after reset, got %v", m)
	}
}
