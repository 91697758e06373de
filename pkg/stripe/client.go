package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// Mode is the Stripe environment a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// keyPrefixes lists the secret and restricted key prefixes each mode accepts.
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

// Client installs the process-wide Stripe key and API backend. The webhook
// signing secret is not its concern; only the api process verifies events.
type Client struct {
	mode Mode
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode, err := parseMode(cfg.Environment())
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(cfg.APIKey)
	if err := checkKey(mode, key); err != nil {
		return nil, err
	}

	retries := int64(cfg.MaxNetworkRetries)
	stripe.Key = key
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.RequestTimeout},
		MaxNetworkRetries: stripe.Int64(retries),
		LeveledLogger:     &leveledLogger{ctx: ctx, logg: logg},
	}))

	logg.Info(logg.WithFields(ctx, map[string]any{
		"stripe_mode":        mode,
		"stripe_max_retries": retries,
	}), "stripe backend configured")
	return &Client{mode: mode}, nil
}

// Environment is the mode as a string, for startup logs.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.mode)
}

// Livemode reports whether events from this account should carry livemode=true.
func (c *Client) Livemode() bool {
	return c != nil && c.mode == ModeLive
}

func parseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return ModeTest, nil
	case ModeTest, ModeLive:
		return mode, nil
	default:
		return "", fmt.Errorf("stripe: unknown environment %q, want %q or %q", raw, ModeTest, ModeLive)
	}
}

// checkKey refuses a live key in test mode and the reverse.
func checkKey(mode Mode, key string) error {
	if key == "" {
		return fmt.Errorf("stripe: api key is required")
	}
	for _, prefix := range keyPrefixes[mode] {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe: %s mode needs a key starting with %s", mode, strings.Join(keyPrefixes[mode], " or "))
}

// leveledLogger forwards stripe-go's own request logging. Debug and info
// lines are dropped; retries and failures show up as warnings and errors.
type leveledLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

var _ stripe.LeveledLoggerInterface = (*leveledLogger)(nil)

func (l *leveledLogger) Debugf(string, ...any) {}

func (l *leveledLogger) Infof(string, ...any) {}

func (l *leveledLogger) Warnf(format string, v ...any) {
	l.logg.Warn(l.logg.WithField(l.ctx, "component", "stripe"), fmt.Sprintf(format, v...))
}

func (l *leveledLogger) Errorf(format string, v ...any) {
	l.logg.Error(l.logg.WithField(l.ctx, "component", "stripe"), fmt.Sprintf(format, v...), nil)
}
