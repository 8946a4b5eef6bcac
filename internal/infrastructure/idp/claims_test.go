package idp

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestExtractCardCredential_BankClaim(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "u1", ClaimCardToken: "ctok_123"})

	cred, err := ExtractCardCredential(domain.ProviderBank, tok)
	require.NoError(t, err)
	assert.Equal(t, domain.BankCard{CardToken: "ctok_123"}, cred)
	assert.Equal(t, domain.PaymentMethodBank, cred.Method())
}

func TestExtractCardCredential_BankOpaqueTokenFallsBack(t *testing.T) {
	cred, err := ExtractCardCredential(domain.ProviderBank, "opaque-card-token")
	require.NoError(t, err)
	assert.Equal(t, domain.BankCard{CardToken: "opaque-card-token"}, cred)
}

func TestExtractCardCredential_BankJWTWithoutClaimUsesWholeToken(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "u1"})

	cred, err := ExtractCardCredential(domain.ProviderBank, tok)
	require.NoError(t, err)
	card, _ := cred.Tokens()
	assert.Equal(t, tok, card)
}

func TestExtractCardCredential_BankEmptyToken(t *testing.T) {
	_, err := ExtractCardCredential(domain.ProviderBank, "  ")
	assert.True(t, errors.Is(err, domain.ErrMissingCardToken))
}

func TestExtractCardCredential_WalletBothClaims(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{ClaimCardToken: "ctok", ClaimWalletCardToken: "wtok"})

	cred, err := ExtractCardCredential(domain.ProviderWallet, tok)
	require.NoError(t, err)
	card, wallet := cred.Tokens()
	assert.Equal(t, "ctok", card)
	assert.Equal(t, "wtok", wallet)
	assert.Equal(t, domain.PaymentMethodWallet, cred.Method())
}

func TestExtractCardCredential_WalletMissingClaims(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		missing []string
	}{
		{"no wallet card", signedToken(t, jwt.MapClaims{ClaimCardToken: "ctok"}), []string{ClaimWalletCardToken}},
		{"no card", signedToken(t, jwt.MapClaims{ClaimWalletCardToken: "wtok"}), []string{ClaimCardToken}},
		{"opaque", "opaque-token", []string{ClaimCardToken, ClaimWalletCardToken}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractCardCredential(domain.ProviderWallet, tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMissingWalletTokens))
			assert.Equal(t, tt.missing, domain.ErrorDetails(err)["missingClaims"])
		})
	}
}

func TestDecodeClaims_RejectsNonJWT(t *testing.T) {
	assert.Nil(t, DecodeClaims("a.b"))
	assert.Nil(t, DecodeClaims("not.a.jwt"))
	assert.Equal(t, "u1", DecodeClaims(signedToken(t, jwt.MapClaims{"sub": "u1"}))["sub"])
}
