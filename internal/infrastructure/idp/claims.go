package idp

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/domain"
)

const (
	ClaimCardToken       = "card_token"
	ClaimWalletCardToken = "wallet_card_token"
)

// ExtractCardCredential pulls the card token(s) out of an access token.
//
// A three-part JWT is decoded without checking its signature and searched for
// the card_token claim, plus wallet_card_token on the wallet path. Bank
// providers that return the card token itself as the access token are
// accepted: with no card_token claim the whole string is the card token. The
// wallet path has no such fallback.
func ExtractCardCredential(kind domain.ProviderKind, accessToken string) (domain.CardCredential, error) {
	claims := DecodeClaims(accessToken)
	card := stringClaim(claims, ClaimCardToken)

	switch kind {
	case domain.ProviderWallet:
		walletCard := stringClaim(claims, ClaimWalletCardToken)
		if card == "" || walletCard == "" {
			var missing []string
			if card == "" {
				missing = append(missing, ClaimCardToken)
			}
			if walletCard == "" {
				missing = append(missing, ClaimWalletCardToken)
			}
			return nil, domain.NewDomainError(domain.ErrorCodeMissingWalletTokens, "wallet tokens missing from access token").
				WithDetail("missingClaims", missing)
		}
		return domain.WalletCard{CardToken: card, WalletCardToken: walletCard}, nil
	default:
		if card == "" {
			card = strings.TrimSpace(accessToken)
		}
		if card == "" {
			return nil, domain.ErrMissingCardToken
		}
		return domain.BankCard{CardToken: card}, nil
	}
}

// DecodeClaims returns the payload of a JWT without verifying it, or nil when
// the token is not a parseable JWT.
func DecodeClaims(token string) jwt.MapClaims {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if claims == nil {
		return ""
	}
	v, _ := claims[name].(string)
	return strings.TrimSpace(v)
}
