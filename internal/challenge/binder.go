package challenge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"storefront/internal/domain"
)

// New generates a fresh state, nonce and PKCE verifier for one attempt.
func New(provider domain.ProviderKind, purpose domain.ChallengePurpose, orderID string) (*domain.ChallengeState, error) {
	state, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return &domain.ChallengeState{
		OrderID:      orderID,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: oauth2.GenerateVerifier(),
		Provider:     provider,
		Purpose:      purpose,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// CodeChallenge is the S256 challenge sent with the authorization request.
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Binder ties challenges to the session that started them.
type Binder struct {
	Store *Store
}

func (b *Binder) Bind(sessionID string, provider domain.ProviderKind, purpose domain.ChallengePurpose, orderID string) (*domain.ChallengeState, error) {
	if sessionID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "session required")
	}
	ch, err := New(provider, purpose, orderID)
	if err != nil {
		return nil, err
	}
	b.Store.Put(sessionID, ch)
	return ch, nil
}

// Consume takes the session's challenge and checks the returned state. The
// challenge is gone afterwards whatever the outcome. On a state mismatch the
// challenge is still returned so the caller can log which order it belonged to.
func (b *Binder) Consume(sessionID, returnedState string) (*domain.ChallengeState, error) {
	ch, ok := b.Store.Take(sessionID)
	if !ok {
		return nil, domain.ErrInvalidState
	}
	if subtle.ConstantTimeCompare([]byte(ch.State), []byte(returnedState)) != 1 {
		return ch, domain.ErrStateMismatch
	}
	return ch, nil
}

func (b *Binder) Discard(sessionID string) {
	b.Store.Delete(sessionID)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
