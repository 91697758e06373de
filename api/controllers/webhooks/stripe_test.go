package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	stripewebhook "github.com/angelmondragon/marketplace-orchestrator/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

type fakeIngestor struct {
	calls     int
	payload   []byte
	signature string
	result    *stripewebhook.IngestResult
	err       error
}

func (f *fakeIngestor) Ingest(_ context.Context, payload []byte, signature string) (*stripewebhook.IngestResult, error) {
	f.calls++
	f.payload = payload
	f.signature = signature
	return f.result, f.err
}

func serve(t *testing.T, ingestor StripeIngestor, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	StripeWebhook(ingestor, nil).ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAcknowledgesRecordedOutcomes(t *testing.T) {
	orderID := uuid.New()
	for _, outcome := range []enums.WebhookOutcome{
		enums.WebhookOutcomeApplied,
		enums.WebhookOutcomeIgnoredDuplicate,
		enums.WebhookOutcomeIgnoredUnrecognized,
	} {
		ingestor := &fakeIngestor{result: &stripewebhook.IngestResult{EventID: "evt_1", Outcome: outcome, OrderID: &orderID}}
		rec := serve(t, ingestor, []byte(`{"id":"evt_1"}`), "t=1,v1=abc")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (%s)", outcome, rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), string(outcome)) {
			t.Fatalf("%s: outcome missing from body %s", outcome, rec.Body.String())
		}
	}
}

func TestStripeWebhookPassesRawBodyAndSignature(t *testing.T) {
	ingestor := &fakeIngestor{result: &stripewebhook.IngestResult{Outcome: enums.WebhookOutcomeApplied}}
	body := []byte(`{"id":"evt_raw","type":"charge.refunded"}`)
	serve(t, ingestor, body, "t=1,v1=sig")

	if !bytes.Equal(ingestor.payload, body) {
		t.Fatalf("payload altered: %s", ingestor.payload)
	}
	if ingestor.signature != "t=1,v1=sig" {
		t.Fatalf("signature not forwarded: %q", ingestor.signature)
	}
}

func TestStripeWebhookErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad signature", pkgerrors.New(pkgerrors.CodeUnauthorized, "bad").WithReason(pkgerrors.ReasonInvalidSignature), http.StatusUnauthorized},
		{"malformed", pkgerrors.New(pkgerrors.CodeValidation, "malformed").WithReason(pkgerrors.ReasonMalformedEvent), http.StatusBadRequest},
		{"retryable", pkgerrors.New(pkgerrors.CodeDependency, "lock busy").WithReason(pkgerrors.ReasonLockTimeout), http.StatusServiceUnavailable},
		{"integrity", pkgerrors.New(pkgerrors.CodeIntegrity, "mismatch").WithReason(pkgerrors.ReasonAmountMismatch), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := serve(t, &fakeIngestor{err: tt.err}, []byte(`{}`), "t=1,v1=abc")
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.want, rec.Code)
		}
	}
}

func TestStripeWebhookRejectsOversizedPayload(t *testing.T) {
	ingestor := &fakeIngestor{}
	rec := serve(t, ingestor, bytes.Repeat([]byte("a"), MaxPayloadBytes+1), "t=1,v1=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ingestor.calls != 0 {
		t.Fatalf("ingestor should not run for oversized payloads")
	}
}
