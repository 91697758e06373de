package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/api/middleware"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

func customer() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleCustomer}
}

func admin() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleAdmin}
}

func vendor(vendorID uuid.UUID) auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleVendor, VendorID: &vendorID}
}

// newRequest builds a request carrying the principal and chi URL params.
func newRequest(method, target string, body io.Reader, principal auth.Principal, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rc)
	ctx = middleware.WithPrincipal(ctx, principal)
	return req.WithContext(ctx)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return env
}
