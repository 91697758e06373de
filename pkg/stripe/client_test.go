package stripe

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeTest, "TEST": ModeTest, " live ": ModeLive}
	for raw, want := range cases {
		got, err := parseMode(raw)
		if err != nil || got != want {
			t.Fatalf("parseMode(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := parseMode("staging"); err == nil {
		t.Fatal("expected unknown environment to fail")
	}
}

func TestCheckKeyMatchesMode(t *testing.T) {
	cases := []struct {
		mode Mode
		key  string
		ok   bool
	}{
		{ModeTest, "sk_test_123", true},
		{ModeTest, "rk_test_123", true},
		{ModeTest, "sk_live_123", false},
		{ModeLive, "rk_live_123", true},
		{ModeLive, "sk_test_123", false},
		{ModeLive, "", false},
	}
	for _, tc := range cases {
		err := checkKey(tc.mode, tc.key)
		if (err == nil) != tc.ok {
			t.Fatalf("checkKey(%s, %q) = %v", tc.mode, tc.key, err)
		}
	}
}

func TestNewClientRejectsMismatchedKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{Env: "live", APIKey: "sk_test_abc"}, nil)
	if err == nil || !strings.Contains(err.Error(), "live mode") {
		t.Fatalf("expected live-mode key error, got %v", err)
	}
}

func TestLeveledLoggerKeepsWarningsOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	l := &leveledLogger{ctx: context.Background(), logg: logger.New(logger.Options{ServiceName: "stripe-test", Output: buf})}

	l.Debugf("request %s", "GET /v1/accounts")
	l.Infof("response %d", 200)
	if buf.Len() != 0 {
		t.Fatalf("expected debug and info to be dropped, got %s", buf.String())
	}

	l.Warnf("retrying request after %d ms", 500)
	if !strings.Contains(buf.String(), "retrying request after 500 ms") || !strings.Contains(buf.String(), `"component":"stripe"`) {
		t.Fatalf("unexpected warn output %s", buf.String())
	}
}
