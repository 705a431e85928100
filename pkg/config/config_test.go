package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresStripeCredentials(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SWIFTMART_STRIPE_API_KEY", "sk_test_123")
	t.Setenv("SWIFTMART_STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("SWIFTMART_HTTP_ADDR", ":9090")
	t.Setenv("SWIFTMART_PENDING_ORDER_TTL", "2h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk_test_123", cfg.StripeAPIKey)
	assert.Equal(t, "whsec_123", cfg.StripeWebhookSecret)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Hour, cfg.PendingOrderTTL)

	// Defaults fill the rest.
	assert.Equal(t, "order.events", cfg.OutboxTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}
