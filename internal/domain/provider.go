package domain

import (
	"strings"
	"time"
)

type ProviderKind string

const (
	ProviderBank   ProviderKind = "bank"
	ProviderWallet ProviderKind = "wallet"
)

func ParseProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderBank:
		return ProviderBank, true
	case ProviderWallet:
		return ProviderWallet, true
	}
	return "", false
}

// CardCredential is what a provider hands back for the payment network: a
// BankCard or a WalletCard.
type CardCredential interface {
	Method() PaymentMethod
	Tokens() (cardToken, walletCardToken string)
}

type BankCard struct {
	CardToken string
}

func (BankCard) Method() PaymentMethod { return PaymentMethodBank }

func (c BankCard) Tokens() (string, string) { return c.CardToken, "" }

type WalletCard struct {
	CardToken       string
	WalletCardToken string
}

func (WalletCard) Method() PaymentMethod { return PaymentMethodWallet }

func (c WalletCard) Tokens() (string, string) { return c.CardToken, c.WalletCardToken }

type ChallengePurpose string

const (
	PurposeCheckout ChallengePurpose = "checkout"
	PurposeLogin    ChallengePurpose = "login"
)

// ChallengeState binds one authorization attempt to the session driving it.
type ChallengeState struct {
	OrderID      string           `json:"orderId,omitempty"`
	State        string           `json:"state"`
	Nonce        string           `json:"nonce"`
	CodeVerifier string           `json:"-"`
	Provider     ProviderKind     `json:"provider"`
	Purpose      ChallengePurpose `json:"purpose"`
	CreatedAt    time.Time        `json:"createdAt"`
}
