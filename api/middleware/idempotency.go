package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	// idempotencyLease bounds how long an in-flight reservation blocks
	// retries if the replica handling it dies.
	idempotencyLease = 2 * time.Minute
)

// IdempotencyStore holds one record per (caller, route, key): first a
// pending reservation, then the finished response.
type IdempotencyStore interface {
	IdempotencyKey(scope, id string) string
	Reserve(ctx context.Context, key, marker string, lease time.Duration) (held string, reserved bool, err error)
	Complete(ctx context.Context, key, record string, ttl time.Duration) error
	Release(ctx context.Context, key, marker string) error
}

type idempotencyRule struct {
	method string
	match  func(pattern string) bool
	// required rejects requests that omit the header.
	required bool
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, match: exactly("/orders"), required: true},
	{method: http.MethodPost, match: exactly("/checkout/{orderId}"), required: true},
	{method: http.MethodPost, match: exactly("/orders/{orderId}/cancel")},
	{method: http.MethodPatch, match: startsWith("/vendor/order-items/")},
	{method: http.MethodPost, match: exactly("/admin/payouts")},
}

func exactly(path string) func(string) bool {
	return func(p string) bool { return p == path }
}

func startsWith(prefix string) func(string) bool {
	return func(p string) bool { return strings.HasPrefix(p, prefix) }
}

func matchRule(method, pattern string) (idempotencyRule, bool) {
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.match(pattern) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

// idempotencyRecord is stored as JSON. While Pending, Owner distinguishes
// reservations so only the request that made one can release it.
type idempotencyRecord struct {
	Pending     bool   `json:"pending,omitempty"`
	Owner       string `json:"owner,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the mutating routes in idempotencyRules safe to retry.
// A repeated key with the same body replays the stored response; with a
// different body it is rejected; while the first request is still running
// the duplicate gets a conflict. 5xx responses and panics release the
// reservation so the client can try again with the same key.
func Idempotency(store IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			id := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if id == "" {
				if rule.required {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, id)
			hash := sha256.Sum256(body)
			pending := idempotencyRecord{Pending: true, Owner: uuid.NewString(), RequestHash: hex.EncodeToString(hash[:])}
			marker, _ := json.Marshal(pending)

			held, reserved, err := store.Reserve(ctx, key, string(marker), idempotencyLease)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency store unavailable"))
				return
			}
			if !reserved {
				replayOrReject(ctx, logg, w, held, pending.RequestHash)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			captured := &bytes.Buffer{}
			ww.Tee(captured)
			release := func() {
				if err := store.Release(context.WithoutCancel(ctx), key, string(marker)); err != nil {
					logg.Error(ctx, "release idempotency reservation", err)
				}
			}
			defer func() {
				if p := recover(); p != nil {
					release()
					panic(p)
				}
			}()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				release()
				return
			}
			done, _ := json.Marshal(idempotencyRecord{
				RequestHash: pending.RequestHash,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			})
			if err := store.Complete(context.WithoutCancel(ctx), key, string(done), ttl); err != nil {
				logg.Error(ctx, "store idempotent response", err)
			}
		})
	}
}

func replayOrReject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, held, requestHash string) {
	var rec idempotencyRecord
	if held == "" || json.Unmarshal([]byte(held), &rec) != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
		return
	}
	switch {
	case rec.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case rec.Pending:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
