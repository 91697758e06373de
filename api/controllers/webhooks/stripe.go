package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	stripewebhook "github.com/angelmondragon/marketplace-orchestrator/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// MaxPayloadBytes caps a webhook body; Stripe events are well below this.
const MaxPayloadBytes = 64 << 10

type StripeIngestor interface {
	Ingest(ctx context.Context, payload []byte, signature string) (*stripewebhook.IngestResult, error)
}

// StripeWebhook acknowledges every verified delivery that was recorded,
// including duplicates and ignored kinds. Signature failures answer 401,
// malformed events 400, retryable failures 503 and integrity violations 500,
// so Stripe redelivers only what can still succeed.
func StripeWebhook(ingestor StripeIngestor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ingestor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook ingestor unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		result, err := ingestor.Ingest(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
