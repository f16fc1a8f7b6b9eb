package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/ranggacaw/treevest-backend/pkg/config"
)

func TestNewClientValidatesKeysAgainstEnvironment(t *testing.T) {
	ctx := context.Background()

	if _, err := NewClient(ctx, config.StripeConfig{Env: "test", Secret: "whsec_x"}, nil); err == nil {
		t.Fatal("expected missing api key to fail")
	}
	if _, err := NewClient(ctx, config.StripeConfig{Env: "test", APIKey: "sk_test_123"}, nil); err == nil {
		t.Fatal("expected missing signing secret to fail")
	}
	if _, err := NewClient(ctx, config.StripeConfig{Env: "live", APIKey: "sk_test_123", Secret: "whsec_x"}, nil); err == nil {
		t.Fatal("expected test key in live env to fail")
	}
	if _, err := NewClient(ctx, config.StripeConfig{Env: "staging", APIKey: "sk_test_123", Secret: "whsec_x"}, nil); err == nil {
		t.Fatal("expected unknown env to fail")
	}
}

func TestNewClientExposesSecretsAndTimeout(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		Env:     "TEST",
		APIKey:  "sk_test_123",
		Secret:  " whsec_abc ",
		Timeout: 3 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("expected test env, got %q", client.Environment())
	}
	if client.SigningSecret() != "whsec_abc" {
		t.Fatalf("expected trimmed secret, got %q", client.SigningSecret())
	}
	if client.Timeout() != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %v", client.Timeout())
	}

	var nilClient *Client
	if nilClient.Timeout() != defaultTimeout {
		t.Fatalf("expected default timeout for nil client")
	}
}
