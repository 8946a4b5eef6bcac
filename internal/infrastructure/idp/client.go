package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"

	"storefront/internal/domain"
)

const DefaultPaymentScope = "payment:authorize"

// PaymentClaims are embedded in wallet authorization requests so the wallet
// can show the exact amount on its approval screen.
type PaymentClaims struct {
	Amount     int64
	Currency   string
	MerchantID string
	OrderID    string
}

type paymentClaimsJSON struct {
	Payment struct {
		Amount     string `json:"amount"`
		Currency   string `json:"currency"`
		MerchantID string `json:"merchantId"`
		OrderID    string `json:"orderId"`
	} `json:"payment"`
}

// Tokens is the outcome of a code exchange.
type Tokens struct {
	AccessToken string
	// Identity is set when the provider returned an ID token with a subject.
	Identity *domain.Identity
}

type Client struct {
	cfg      ProviderConfig
	oauth    *oauth2.Config
	verifier *gooidc.IDTokenVerifier
}

func (c *Client) Kind() domain.ProviderKind { return c.cfg.Kind }

// AuthCodeURL builds the checkout authorization request.
func (c *Client) AuthCodeURL(ch *domain.ChallengeState, pay *PaymentClaims) string {
	scope := c.cfg.PaymentScope
	if scope == "" {
		scope = DefaultPaymentScope
	}
	opts := c.challengeOptions(ch, strings.Join(append(append([]string{}, c.oauth.Scopes...), scope), " "))

	switch c.cfg.Kind {
	case domain.ProviderBank:
		// A previously selected card must never be reused silently.
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	case domain.ProviderWallet:
		if pay != nil {
			opts = append(opts, oauth2.SetAuthURLParam("claims", encodePaymentClaims(pay)))
		}
		if c.cfg.Resource != "" {
			opts = append(opts, oauth2.SetAuthURLParam("resource", c.cfg.Resource))
		}
	}
	return c.oauth.AuthCodeURL(ch.State, opts...)
}

// LoginURL builds a plain sign-in request without payment scope.
func (c *Client) LoginURL(ch *domain.ChallengeState) string {
	opts := c.challengeOptions(ch, strings.Join(c.oauth.Scopes, " "))
	if c.cfg.LoginRedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", c.cfg.LoginRedirectURL))
	}
	return c.oauth.AuthCodeURL(ch.State, opts...)
}

func (c *Client) challengeOptions(ch *domain.ChallengeState, scope string) []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", scope),
		gooidc.Nonce(ch.Nonce),
		oauth2.S256ChallengeOption(ch.CodeVerifier),
	}
}

// Exchange redeems an authorization code with the bound PKCE verifier and
// checks the ID token nonce when one is returned.
func (c *Client) Exchange(ctx context.Context, code string, ch *domain.ChallengeState) (*Tokens, error) {
	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(ch.CodeVerifier)}
	if ch.Purpose == domain.PurposeLogin && c.cfg.LoginRedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", c.cfg.LoginRedirectURL))
	}
	if c.cfg.Kind == domain.ProviderWallet && c.cfg.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", c.cfg.Resource))
	}

	tok, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeTokenExchange, fmt.Sprintf("%s code exchange failed", c.cfg.Kind), err)
	}
	out := &Tokens{AccessToken: tok.AccessToken}
	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		id, err := c.identity(ctx, raw, ch.Nonce)
		if err != nil {
			return nil, err
		}
		out.Identity = id
	}
	return out, nil
}

func (c *Client) identity(ctx context.Context, rawIDToken, nonce string) (*domain.Identity, error) {
	var (
		sub, email, name, gotNonce string
	)
	if c.verifier != nil {
		idt, err := c.verifier.Verify(ctx, rawIDToken)
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeTokenExchange, "id token verification failed", err)
		}
		var extra struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := idt.Claims(&extra); err != nil {
			return nil, domain.WrapError(domain.ErrorCodeTokenExchange, "id token claims unreadable", err)
		}
		sub, email, name, gotNonce = idt.Subject, extra.Email, extra.Name, idt.Nonce
	} else {
		claims := DecodeClaims(rawIDToken)
		if claims == nil {
			return nil, domain.NewDomainError(domain.ErrorCodeTokenExchange, "id token is not a JWT")
		}
		sub = stringClaim(claims, "sub")
		email = stringClaim(claims, "email")
		name = stringClaim(claims, "name")
		gotNonce = stringClaim(claims, "nonce")
	}
	if gotNonce != nonce {
		return nil, domain.NewDomainError(domain.ErrorCodeStateMismatch, "id token nonce mismatch")
	}
	if sub == "" {
		return nil, nil
	}
	return &domain.Identity{Subject: sub, Email: email, Name: name}, nil
}

func encodePaymentClaims(p *PaymentClaims) string {
	var c paymentClaimsJSON
	exp := domain.MinorUnits(p.Currency)
	c.Payment.Amount = decimal.New(p.Amount, -exp).StringFixed(exp)
	c.Payment.Currency = p.Currency
	c.Payment.MerchantID = p.MerchantID
	c.Payment.OrderID = p.OrderID
	raw, _ := json.Marshal(c)
	return string(raw)
}
