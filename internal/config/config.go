package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type IdPConfig struct {
	Enabled      bool
	Issuer       string
	ClientID     string
	ClientSecret string
	PaymentScope string
	Resource     string
}

type TerminalSeed struct {
	ID     string
	APIKey string
	Name   string
}

type Config struct {
	Env     string
	Port    int
	LogJSON bool

	PublicBaseURL string
	SessionSecret string
	SessionTTL    time.Duration
	StoreID       string
	MerchantID    string
	MerchantName  string
	Currency      string
	AdminAPIKey   string
	CORSOrigins   []string

	// DatabaseURL selects the Postgres stores; empty keeps everything in memory.
	DatabaseURL string

	Bank   IdPConfig
	Wallet IdPConfig

	WalletAPIURL         string
	WalletStatusEndpoint string
	WalletAPIKey         string

	NetworkURL     string
	NetworkAPIKey  string
	NetworkTimeout time.Duration

	ChallengeTTL       time.Duration
	OrderPendingTTL    time.Duration
	TerminalPaymentTTL time.Duration
	SweepInterval      time.Duration

	CheckoutRatePerSecond float64
	CheckoutBurst         int

	Terminals []TerminalSeed
	Products  []domain.Product
}

func Default() Config {
	return Config{
		Env:                   "dev",
		Port:                  5000,
		LogJSON:               true,
		PublicBaseURL:         "http://localhost:5000",
		SessionTTL:            24 * time.Hour,
		StoreID:               "store-1",
		MerchantID:            "merchant-1",
		MerchantName:          "Storefront",
		Currency:              "CAD",
		CORSOrigins:           []string{"http://localhost:3000"},
		Bank:                  IdPConfig{Enabled: true, PaymentScope: "payment:authorize"},
		Wallet:                IdPConfig{PaymentScope: "payment:authorize"},
		NetworkURL:            "http://127.0.0.1:8081",
		NetworkTimeout:        10 * time.Second,
		ChallengeTTL:          10 * time.Minute,
		OrderPendingTTL:       30 * time.Minute,
		TerminalPaymentTTL:    5 * time.Minute,
		SweepInterval:         time.Minute,
		CheckoutRatePerSecond: 2,
		CheckoutBurst:         5,
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

// RedirectURL is where an identity provider sends the browser after checkout.
func (c Config) RedirectURL(kind domain.ProviderKind) string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/payment/" + string(kind) + "/callback"
}

func (c Config) LoginRedirectURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/auth/callback"
}

func (c Config) MobileReturnURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/terminal/mobile-return"
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("STORE_SESSION_SECRET is required")
	}
	if c.Bank.Enabled && (c.Bank.Issuer == "" || c.Bank.ClientID == "") {
		return fmt.Errorf("bank identity provider needs an issuer and client id")
	}
	if c.Wallet.Enabled && (c.Wallet.Issuer == "" || c.Wallet.ClientID == "") {
		return fmt.Errorf("wallet identity provider needs an issuer and client id")
	}
	return nil
}

func fromEnv(c Config) Config {
	str("STORE_ENV", &c.Env)
	if v := os.Getenv("STORE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	boolean("STORE_LOG_JSON", &c.LogJSON)

	str("STORE_PUBLIC_BASE_URL", &c.PublicBaseURL)
	str("STORE_SESSION_SECRET", &c.SessionSecret)
	duration("STORE_SESSION_TTL", &c.SessionTTL)
	str("STORE_ID", &c.StoreID)
	str("STORE_MERCHANT_ID", &c.MerchantID)
	str("STORE_MERCHANT_NAME", &c.MerchantName)
	str("STORE_CURRENCY", &c.Currency)
	str("STORE_ADMIN_API_KEY", &c.AdminAPIKey)
	if v := os.Getenv("STORE_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	str("STORE_DATABASE_URL", &c.DatabaseURL)

	idpFromEnv("STORE_BANK_", &c.Bank)
	idpFromEnv("STORE_WALLET_", &c.Wallet)
	str("STORE_WALLET_API_URL", &c.WalletAPIURL)
	str("STORE_WALLET_STATUS_ENDPOINT", &c.WalletStatusEndpoint)
	str("STORE_WALLET_API_KEY", &c.WalletAPIKey)

	str("STORE_NETWORK_URL", &c.NetworkURL)
	str("STORE_NETWORK_API_KEY", &c.NetworkAPIKey)
	duration("STORE_NETWORK_TIMEOUT", &c.NetworkTimeout)

	duration("STORE_CHALLENGE_TTL", &c.ChallengeTTL)
	duration("STORE_ORDER_PENDING_TTL", &c.OrderPendingTTL)
	duration("STORE_TERMINAL_PAYMENT_TTL", &c.TerminalPaymentTTL)
	duration("STORE_SWEEP_INTERVAL", &c.SweepInterval)

	if v := os.Getenv("STORE_CHECKOUT_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.CheckoutRatePerSecond = f
		}
	}
	if v := os.Getenv("STORE_CHECKOUT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CheckoutBurst = n
		}
	}

	if v := os.Getenv("STORE_TERMINALS"); v != "" {
		c.Terminals = ParseTerminals(v)
	}
	if v := os.Getenv("STORE_PRODUCTS"); v != "" {
		if ps, err := ParseProducts(v, c.Currency); err == nil {
			c.Products = ps
		}
	}
	return c
}

func idpFromEnv(prefix string, c *IdPConfig) {
	boolean(prefix+"ENABLED", &c.Enabled)
	str(prefix+"ISSUER", &c.Issuer)
	str(prefix+"CLIENT_ID", &c.ClientID)
	str(prefix+"CLIENT_SECRET", &c.ClientSecret)
	str(prefix+"PAYMENT_SCOPE", &c.PaymentScope)
	str(prefix+"RESOURCE", &c.Resource)
}

// ParseTerminals reads "id:key[:name]" entries separated by commas.
func ParseTerminals(v string) []TerminalSeed {
	var out []TerminalSeed
	for _, item := range splitList(v) {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		t := TerminalSeed{ID: parts[0], APIKey: parts[1], Name: parts[0]}
		if len(parts) == 3 && parts[2] != "" {
			t.Name = parts[2]
		}
		out = append(out, t)
	}
	return out
}

// ParseProducts reads "id:name:price" entries separated by commas. Prices are
// in major units ("12.99") and stored in minor units of currency.
func ParseProducts(v, currency string) ([]domain.Product, error) {
	var out []domain.Product
	for _, item := range splitList(v) {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("product %q: want id:name:price", item)
		}
		price, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", item, err)
		}
		exp := domain.MinorUnits(currency)
		minor := price.Shift(exp)
		if !minor.IsInteger() || !minor.IsPositive() {
			return nil, fmt.Errorf("product %q: price must be positive with at most %d decimals", item, exp)
		}
		out = append(out, domain.Product{
			ID:       parts[0],
			Name:     parts[1],
			Price:    minor.IntPart(),
			Currency: strings.ToUpper(currency),
		})
	}
	return out, nil
}

func str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func boolean(key string, dst *bool) {
	switch os.Getenv(key) {
	case "1", "true", "TRUE":
		*dst = true
	case "0", "false", "FALSE":
		*dst = false
	}
}

func duration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
