package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

func TestRequestIDAdoptsOrReplacesHeader(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFrom(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"caller id kept", "checkout-7f3a", true},
		{"missing id minted", "", false},
		{"control chars replaced", "bad\nid", false},
		{"oversized replaced", strings.Repeat("a", maxRequestIDBytes+1), false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		if tt.incoming != "" {
			req.Header.Set(requestIDHeader, tt.incoming)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		echoed := rec.Header().Get(requestIDHeader)
		if echoed == "" || echoed != seen {
			t.Fatalf("%s: echoed %q, context %q", tt.name, echoed, seen)
		}
		if tt.keep != (echoed == tt.incoming) {
			t.Fatalf("%s: unexpected id %q", tt.name, echoed)
		}
	}
}

func TestRecovererReturnsInternalError(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: buf})
	handler := Recoverer(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil order")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "nil order") {
		t.Fatalf("panic value leaked to client: %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "nil order") {
		t.Fatalf("expected panic in log, got %s", buf.String())
	}
}

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	handler := RequestID(nil)(Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `"requestId":"req-123"`) {
		t.Fatalf("expected request id in envelope, got %s", rec.Body.String())
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLoggingRecordsRoutePatternAndStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: buf})

	r := chi.NewRouter()
	r.Use(Logging(logg))
	r.Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/abc", nil))
	out := buf.String()
	for _, want := range []string{`"route":"/orders/{orderId}"`, `"status":404`, `"message":"request served"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if buf.Len() != 0 {
		t.Fatalf("probe traffic should log at debug, got %s", buf.String())
	}
}
