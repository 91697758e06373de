package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestEveryCodeHasMetadata(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict, CodeStateConflict,
		CodeIdempotency, CodeRateLimit, CodeInternal, CodeDependency, CodeIntegrity,
	}
	for _, code := range codes {
		meta, ok := metadataByCode[code]
		if !ok {
			t.Fatalf("%s has no metadata", code)
		}
		if meta.HTTPStatus < 400 || meta.PublicMessage == "" {
			t.Fatalf("%s has incomplete metadata %+v", code, meta)
		}
	}
}

func TestMetadataSemantics(t *testing.T) {
	if m := MetadataFor(CodeStateConflict); m.HTTPStatus != http.StatusUnprocessableEntity || !m.DetailsAllowed {
		t.Fatalf("state conflicts render as 422 with details, got %+v", m)
	}
	if m := MetadataFor(CodeDependency); m.HTTPStatus != http.StatusServiceUnavailable || !m.Retryable {
		t.Fatalf("dependency failures are retryable 503s, got %+v", m)
	}
	if m := MetadataFor(CodeIntegrity); m.Retryable || m.DetailsAllowed {
		t.Fatalf("integrity violations are final and opaque, got %+v", m)
	}
	if m := MetadataFor("SOMETHING_UNKNOWN"); m != metadataByCode[CodeInternal] {
		t.Fatalf("unknown codes fall back to internal, got %+v", m)
	}
}

func TestErrorStringCarriesReasonAndCause(t *testing.T) {
	err := Wrap(CodeConflict, stdErrors.New("row locked"), "reserve stock").WithReason(ReasonConcurrentStockConflict)
	want := "CONFLICT/CONCURRENT_STOCK_CONFLICT: reserve stock: row locked"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	if got := New(CodeNotFound, "order missing").Error(); got != "NOT_FOUND: order missing" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestBuildersOnNilAreSafe(t *testing.T) {
	var e *Error
	if e.WithReason(ReasonOutOfStock) != nil || e.WithDetails("x") != nil {
		t.Fatal("builders on nil must stay nil")
	}
	if e.Code() != CodeInternal || e.Error() != "" || e.Unwrap() != nil {
		t.Fatal("nil error accessors must be zero-valued")
	}
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stdErrors.New("stripe 502")
	wrapped := Wrap(CodeDependency, cause, "create transfer").WithDetails(map[string]any{"attempt": 2})
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("cause lost")
	}
	if wrapped.Details() == nil {
		t.Fatal("details lost")
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{stdErrors.New("plain"), CodeInternal},
		{fmt.Errorf("load payout: %w", New(CodeNotFound, "payout missing")), CodeNotFound},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Fatalf("CodeOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestHasReasonWalksWrappedChain(t *testing.T) {
	inner := New(CodeConflict, "stock gone").WithReason(ReasonOutOfStock)
	outer := Wrap(CodeInternal, fmt.Errorf("split: %w", inner), "create order")

	if !HasReason(outer, ReasonOutOfStock) {
		t.Fatalf("expected %s in %v", ReasonOutOfStock, outer)
	}
	if HasReason(outer, ReasonProductUnavailable) {
		t.Fatal("unexpected reason match")
	}
	if HasReason(stdErrors.New("plain"), ReasonOutOfStock) {
		t.Fatal("plain errors carry no reason")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"dependency": {New(CodeDependency, "stripe timeout"), true},
		"integrity":  {New(CodeIntegrity, "amount mismatch"), false},
		"untyped":    {stdErrors.New("driver: bad connection"), true},
		"nil":        {nil, false},
	}
	for name, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: got %v want %v", name, got, tc.want)
		}
	}
}
