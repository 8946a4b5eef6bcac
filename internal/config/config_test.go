package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("STORE_PORT", "8088")
	t.Setenv("STORE_LOG_JSON", "false")
	t.Setenv("STORE_SESSION_SECRET", "s3cret")
	t.Setenv("STORE_CORS_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("STORE_BANK_ISSUER", "https://bank.test")
	t.Setenv("STORE_WALLET_ENABLED", "true")
	t.Setenv("STORE_WALLET_RESOURCE", "urn:wallet:payments")
	t.Setenv("STORE_NETWORK_TIMEOUT", "3s")
	t.Setenv("STORE_ORDER_PENDING_TTL", "not-a-duration")
	t.Setenv("STORE_TERMINALS", "term-1:key-1:Front,bad,term-2:key-2")
	t.Setenv("STORE_PRODUCTS", "P1:Mug:10.00,P2:Sticker:5")

	c := EnvDefaults()
	assert.Equal(t, 8088, c.Port)
	assert.False(t, c.LogJSON)
	assert.Equal(t, "s3cret", c.SessionSecret)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, c.CORSOrigins)
	assert.Equal(t, "https://bank.test", c.Bank.Issuer)
	assert.True(t, c.Wallet.Enabled)
	assert.Equal(t, "urn:wallet:payments", c.Wallet.Resource)
	assert.Equal(t, 3*time.Second, c.NetworkTimeout)
	assert.Equal(t, 30*time.Minute, c.OrderPendingTTL)
	assert.Equal(t, []TerminalSeed{
		{ID: "term-1", APIKey: "key-1", Name: "Front"},
		{ID: "term-2", APIKey: "key-2", Name: "term-2"},
	}, c.Terminals)
	assert.Equal(t, []domain.Product{
		{ID: "P1", Name: "Mug", Price: 1000, Currency: "CAD"},
		{ID: "P2", Name: "Sticker", Price: 500, Currency: "CAD"},
	}, c.Products)
}

func TestParseProducts_ZeroDecimalCurrency(t *testing.T) {
	got, err := ParseProducts("P1:Mug:1200", "jpy")
	require.NoError(t, err)
	assert.Equal(t, []domain.Product{{ID: "P1", Name: "Mug", Price: 1200, Currency: "JPY"}}, got)

	_, err = ParseProducts("P1:Mug:12.50", "JPY")
	assert.Error(t, err)
}

func TestParseProducts_RejectsBadPrices(t *testing.T) {
	for _, v := range []string{"P1:Mug", "P1:Mug:abc", "P1:Mug:1.005", "P1:Mug:0", "P1:Mug:-2"} {
		_, err := ParseProducts(v, "CAD")
		assert.Error(t, err, v)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	assert.Error(t, c.Validate())

	c.SessionSecret = "x"
	assert.Error(t, c.Validate())

	c.Bank.Issuer = "https://bank.test"
	c.Bank.ClientID = "store"
	require.NoError(t, c.Validate())

	c.Wallet.Enabled = true
	assert.Error(t, c.Validate())
}

func TestCallbackURLs(t *testing.T) {
	c := Default()
	c.PublicBaseURL = "https://shop.test/"
	assert.Equal(t, "https://shop.test/payment/wallet/callback", c.RedirectURL(domain.ProviderWallet))
	assert.Equal(t, "https://shop.test/auth/callback", c.LoginRedirectURL())
	assert.Equal(t, "https://shop.test/terminal/mobile-return", c.MobileReturnURL())
}
