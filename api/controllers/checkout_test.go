package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	checkoutsvc "github.com/angelmondragon/marketplace-orchestrator/internal/checkout"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

type stubCheckoutService struct {
	session *checkoutsvc.SessionResult
	verify  *checkoutsvc.VerifyResult
	err     error
}

func (s stubCheckoutService) CreateCheckoutSession(context.Context, auth.Principal, uuid.UUID) (*checkoutsvc.SessionResult, error) {
	return s.session, s.err
}

func (s stubCheckoutService) VerifyPaymentStatus(context.Context, auth.Principal, uuid.UUID) (*checkoutsvc.VerifyResult, error) {
	return s.verify, s.err
}

func TestCheckoutReturnsRedirect(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	svc := stubCheckoutService{session: &checkoutsvc.SessionResult{
		OrderID:     orderID,
		SessionID:   "cs_test_1",
		CheckoutURL: "https://checkout.example/cs_test_1",
		AmountCents: 4200,
		Currency:    "usd",
	}}
	req := newRequest(http.MethodPost, "/checkout/"+orderID.String(), nil, customer(), map[string]string{"orderId": orderID.String()})
	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	var got checkoutsvc.SessionResult
	if err := json.Unmarshal(decode(t, rec).Data, &got); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if got.CheckoutURL != "https://checkout.example/cs_test_1" {
		t.Fatalf("unexpected checkout url %q", got.CheckoutURL)
	}
}

func TestCheckoutErrors(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "order not found").WithReason(pkgerrors.ReasonOrderNotFound), http.StatusNotFound},
		{"invalid state", pkgerrors.New(pkgerrors.CodeStateConflict, "order not payable").WithReason(pkgerrors.ReasonInvalidOrderState), http.StatusUnprocessableEntity},
		{"processor down", pkgerrors.New(pkgerrors.CodeDependency, "processor timeout").WithReason(pkgerrors.ReasonProcessorTimeout), http.StatusServiceUnavailable},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req := newRequest(http.MethodPost, "/checkout/x", nil, customer(), map[string]string{"orderId": orderID.String()})
		rec := httptest.NewRecorder()
		Checkout(stubCheckoutService{err: tt.err}, nil).ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestVerifyPaymentReturnsStatus(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	svc := stubCheckoutService{verify: &checkoutsvc.VerifyResult{
		OrderID:       orderID,
		PaymentStatus: enums.PaymentStatusPaid,
		OrderStatus:   enums.OrderStatusPaid,
		Applied:       true,
	}}
	req := newRequest(http.MethodPost, "/verify/"+orderID.String(), nil, customer(), map[string]string{"orderId": orderID.String()})
	rec := httptest.NewRecorder()
	VerifyPayment(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var got checkoutsvc.VerifyResult
	if err := json.Unmarshal(decode(t, rec).Data, &got); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if got.PaymentStatus != enums.PaymentStatusPaid || !got.Applied {
		t.Fatalf("unexpected verify result %+v", got)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("connection refused")}}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Marketplace-Env") != "test" {
		t.Fatalf("unexpected live response %d", rec.Code)
	}
}
