package idp

import (
	"context"
	"fmt"
	"sync"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"storefront/internal/domain"
)

// ProviderConfig describes one external identity provider.
type ProviderConfig struct {
	Kind         domain.ProviderKind
	Enabled      bool
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// LoginRedirectURL receives sign-in callbacks; empty disables login.
	LoginRedirectURL string
	PaymentScope     string
	// Resource is sent on the wallet path to ask for a JWT access token.
	Resource      string
	VerifyIDToken bool
}

// Provider is a discovered identity provider client.
type Provider interface {
	Kind() domain.ProviderKind
	AuthCodeURL(ch *domain.ChallengeState, pay *PaymentClaims) string
	LoginURL(ch *domain.ChallengeState) string
	Exchange(ctx context.Context, code string, ch *domain.ChallengeState) (*Tokens, error)
}

// Registry lazily discovers and caches one client per provider kind.
// Discovery failures are not cached, so the next checkout retries them.
type Registry struct {
	configs map[domain.ProviderKind]ProviderConfig
	logger  *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	clients map[domain.ProviderKind]*Client
}

func NewRegistry(logger *zap.Logger, configs ...ProviderConfig) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		configs: make(map[domain.ProviderKind]ProviderConfig, len(configs)),
		logger:  logger,
		clients: make(map[domain.ProviderKind]*Client),
	}
	for _, c := range configs {
		r.configs[c.Kind] = c
	}
	return r
}

// Enabled reports whether kind is configured, without discovering it.
func (r *Registry) Enabled(kind domain.ProviderKind) bool {
	c, ok := r.configs[kind]
	return ok && c.Enabled
}

func (r *Registry) Provider(ctx context.Context, kind domain.ProviderKind) (Provider, error) {
	cfg, ok := r.configs[kind]
	if !ok || !cfg.Enabled {
		if kind == domain.ProviderWallet {
			return nil, domain.ErrWalletUnavailable
		}
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, fmt.Sprintf("provider %q is not configured", kind))
	}

	r.mu.RLock()
	c, ok := r.clients[kind]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := r.group.Do(string(kind), func() (any, error) {
		r.mu.RLock()
		c, ok := r.clients[kind]
		r.mu.RUnlock()
		if ok {
			return c, nil
		}
		c, err := r.discover(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.clients[kind] = c
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		r.logger.Error("identity provider discovery failed",
			zap.String("provider", string(kind)),
			zap.String("issuer", cfg.Issuer),
			zap.Error(err),
		)
		return nil, err
	}
	return v.(*Client), nil
}

func (r *Registry) discover(ctx context.Context, cfg ProviderConfig) (*Client, error) {
	p, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeDiscoveryFailed, fmt.Sprintf("discover %s issuer", cfg.Kind), err)
	}
	var verifier *gooidc.IDTokenVerifier
	if cfg.VerifyIDToken {
		verifier = p.Verifier(&gooidc.Config{ClientID: cfg.ClientID})
	}
	r.logger.Info("identity provider discovered",
		zap.String("provider", string(cfg.Kind)),
		zap.String("issuer", cfg.Issuer),
	)
	return NewClient(cfg, p.Endpoint(), verifier), nil
}

// NewClient builds a client for an already-known endpoint. verifier may be
// nil, in which case ID-token claims are read without signature checks.
func NewClient(cfg ProviderConfig, endpoint oauth2.Endpoint, verifier *gooidc.IDTokenVerifier) *Client {
	return &Client{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{gooidc.ScopeOpenID, "profile", "email"},
		},
		verifier: verifier,
	}
}
