package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

// MetadataOrderID is the metadata key carrying the order id on sessions and
// payment intents.
const MetadataOrderID = "order_id"

// Gateway implements processor.Gateway against Stripe Checkout and Connect.
// Every call is rate limited and bounded by the configured request timeout.
type Gateway struct {
	client  *Client
	timeout time.Duration
	limiter *rate.Limiter
}

var _ processor.Gateway = (*Gateway)(nil)

func NewGateway(client *Client, cfg config.StripeConfig) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Gateway{
		client:  client,
		timeout: timeout,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, in processor.CreateSessionInput) (*processor.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(expandOrderURL(in.SuccessURL, in.OrderID)),
		CancelURL:         stripe.String(expandOrderURL(in.CancelURL, in.OrderID)),
		ClientReferenceID: stripe.String(in.OrderID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			TransferGroup: stripe.String(in.OrderID.String()),
			Metadata:      map[string]string{MetadataOrderID: in.OrderID.String()},
		},
	}
	if !in.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(in.ExpiresAt.Unix())
	}
	if in.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout amount must be positive")
	}
	params.LineItems = sessionLineItems(in)
	params.AddMetadata(MetadataOrderID, in.OrderID.String())
	params.AddMetadata("customer_id", in.CustomerID.String())
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	var out *stripe.CheckoutSession
	err := g.call(ctx, "create checkout session", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = session.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSession(out), nil
}

// sessionLineItems itemizes the order when products plus shipping add up to
// the amount due. Discounts have no inline form on a session, so a discounted
// or otherwise unreconciled order is charged as one line for AmountCents.
func sessionLineItems(in processor.CreateSessionInput) []*stripe.CheckoutSessionLineItemParams {
	item := func(name string, unit, qty int64) *stripe.CheckoutSessionLineItemParams {
		return &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(in.Currency),
				UnitAmount: stripe.Int64(unit),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(qty),
		}
	}

	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(in.Lines)+1)
	sum := in.ShippingCents
	for _, line := range in.Lines {
		sum += line.UnitPriceCents * int64(line.Quantity)
		items = append(items, item(line.Name, line.UnitPriceCents, int64(line.Quantity)))
	}
	if in.ShippingCents > 0 {
		items = append(items, item("Shipping", in.ShippingCents, 1))
	}
	if in.DiscountCents == 0 && sum == in.AmountCents {
		return items
	}
	return []*stripe.CheckoutSessionLineItemParams{
		item(fmt.Sprintf("Order %s", in.OrderID), in.AmountCents, 1),
	}
}

func (g *Gateway) GetCheckoutSession(ctx context.Context, sessionID string) (*processor.Session, error) {
	params := &stripe.CheckoutSessionParams{}
	var out *stripe.CheckoutSession
	err := g.call(ctx, "get checkout session", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = session.Get(sessionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSession(out), nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, in processor.TransferInput) (*processor.Transfer, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(in.AmountCents),
		Currency:      stripe.String(in.Currency),
		Destination:   stripe.String(in.DestinationAccount),
		TransferGroup: stripe.String("payout_" + in.PayoutID.String()),
	}
	params.AddMetadata("payout_id", in.PayoutID.String())
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	var out *stripe.Transfer
	err := g.call(ctx, "create transfer", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = transfer.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &processor.Transfer{ID: out.ID}, nil
}

func (g *Gateway) CreateConnectedAccount(ctx context.Context, vendorID uuid.UUID) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
	}
	params.AddMetadata("vendor_id", vendorID.String())
	params.SetIdempotencyKey("connect_account_" + vendorID.String())

	var out *stripe.Account
	err := g.call(ctx, "create connected account", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = account.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (g *Gateway) GetAccount(ctx context.Context, accountID string) (*processor.AccountState, error) {
	params := &stripe.AccountParams{}
	var out *stripe.Account
	err := g.call(ctx, "get account", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = account.GetByID(accountID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toAccountState(out), nil
}

func (g *Gateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*processor.OnboardingLink, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	var out *stripe.AccountLink
	err := g.call(ctx, "create account link", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = accountlink.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &processor.OnboardingLink{URL: out.URL, ExpiresAt: time.Unix(out.ExpiresAt, 0).UTC()}, nil
}

func (g *Gateway) Refund(ctx context.Context, in processor.RefundInput) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.PaymentReference),
	}
	if in.AmountCents > 0 {
		params.Amount = stripe.Int64(in.AmountCents)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	var out *stripe.Refund
	err := g.call(ctx, "create refund", func(callCtx context.Context) error {
		params.Context = callCtx
		var err error
		out, err = refund.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(callCtx); err != nil {
		return classifyError(op, fmt.Errorf("rate limiter: %w", err), callCtx.Err())
	}
	if err := fn(callCtx); err != nil {
		return classifyError(op, err, callCtx.Err())
	}
	return nil
}

// classifyError maps Stripe failures onto the error taxonomy: timeouts,
// throttling and 5xx are retryable dependency errors, invalid requests are
// validation errors.
func classifyError(op string, err error, ctxErr error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("payment processor timed out during %s, try again", op)).
			WithReason(pkgerrors.ReasonProcessorTimeout)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.Type == stripe.ErrorTypeAPI:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("payment processor unavailable during %s, try again", op))
		case stripeErr.Type == stripe.ErrorTypeIdempotency:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, fmt.Sprintf("payment processor rejected idempotent replay during %s", op))
		case stripeErr.HTTPStatusCode >= http.StatusBadRequest:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("payment processor rejected %s: %s", op, stripeErr.Msg))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("payment processor call failed during %s, try again", op))
}

func toSession(in *stripe.CheckoutSession) *processor.Session {
	if in == nil {
		return nil
	}
	out := &processor.Session{
		ID:          in.ID,
		URL:         in.URL,
		State:       sessionState(in),
		AmountCents: in.AmountTotal,
		Currency:    string(in.Currency),
	}
	if in.PaymentIntent != nil {
		out.PaymentReference = in.PaymentIntent.ID
	}
	return out
}

func sessionState(in *stripe.CheckoutSession) processor.SessionState {
	switch {
	case in.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return processor.SessionPaid
	case in.Status == stripe.CheckoutSessionStatusExpired:
		return processor.SessionExpired
	default:
		// a complete but unpaid session is an async method still settling
		return processor.SessionOpen
	}
}

func toAccountState(in *stripe.Account) *processor.AccountState {
	if in == nil {
		return nil
	}
	out := &processor.AccountState{
		ID:               in.ID,
		ChargesEnabled:   in.ChargesEnabled,
		PayoutsEnabled:   in.PayoutsEnabled,
		DetailsSubmitted: in.DetailsSubmitted,
	}
	if in.Requirements != nil {
		out.DisabledReason = string(in.Requirements.DisabledReason)
		out.CurrentlyDue = append(out.CurrentlyDue, in.Requirements.CurrentlyDue...)
	}
	return out
}

func expandOrderURL(raw string, orderID uuid.UUID) string {
	return strings.ReplaceAll(raw, "{ORDER_ID}", orderID.String())
}
