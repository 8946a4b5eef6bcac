package challenge

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

func TestNew_GeneratesDistinctHighEntropyValues(t *testing.T) {
	a, err := New(domain.ProviderBank, domain.PurposeCheckout, "o-1")
	require.NoError(t, err)
	b, err := New(domain.ProviderBank, domain.PurposeCheckout, "o-1")
	require.NoError(t, err)

	assert.NotEqual(t, a.State, b.State)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
	assert.GreaterOrEqual(t, len(a.CodeVerifier), 43)
	assert.Equal(t, "o-1", a.OrderID)
}

func TestCodeChallenge_IsBase64URLSHA256OfVerifier(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, CodeChallenge(verifier))
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", CodeChallenge(verifier))
}

func TestBinder_ConsumeIsSingleUse(t *testing.T) {
	b := &Binder{Store: NewStore(time.Minute)}
	ch, err := b.Bind("sess-1", domain.ProviderWallet, domain.PurposeCheckout, "o-1")
	require.NoError(t, err)

	got, err := b.Consume("sess-1", ch.State)
	require.NoError(t, err)
	assert.Equal(t, "o-1", got.OrderID)
	assert.Equal(t, ch.CodeVerifier, got.CodeVerifier)

	_, err = b.Consume("sess-1", ch.State)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
}

func TestBinder_ConsumeStateMismatch(t *testing.T) {
	b := &Binder{Store: NewStore(time.Minute)}
	_, err := b.Bind("sess-1", domain.ProviderBank, domain.PurposeCheckout, "o-1")
	require.NoError(t, err)

	got, err := b.Consume("sess-1", "forged")
	assert.True(t, errors.Is(err, domain.ErrStateMismatch))
	require.NotNil(t, got)
	assert.Equal(t, "o-1", got.OrderID)
	assert.Zero(t, b.Store.Len())
}

func TestBinder_SessionsAreIsolated(t *testing.T) {
	b := &Binder{Store: NewStore(time.Minute)}
	ch, err := b.Bind("sess-1", domain.ProviderBank, domain.PurposeCheckout, "o-1")
	require.NoError(t, err)

	_, err = b.Consume("sess-2", ch.State)
	assert.True(t, errors.Is(err, domain.ErrInvalidState))
	assert.Equal(t, 1, b.Store.Len())
}

func TestBinder_BindRequiresSession(t *testing.T) {
	b := &Binder{Store: NewStore(time.Minute)}
	_, err := b.Bind("", domain.ProviderBank, domain.PurposeCheckout, "o-1")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))
}

func TestStore_ExpiredChallengesAreAbsent(t *testing.T) {
	s := NewStore(time.Minute)
	s.Put("sess-1", &domain.ChallengeState{State: "s", CreatedAt: time.Now().Add(-2 * time.Minute)})
	s.Put("sess-2", &domain.ChallengeState{State: "s", CreatedAt: time.Now()})

	_, ok := s.Take("sess-1")
	assert.False(t, ok)

	s.Put("sess-3", &domain.ChallengeState{State: "s", CreatedAt: time.Now().Add(-time.Hour)})
	assert.Equal(t, 1, s.Prune(time.Now()))
	assert.Equal(t, 1, s.Len())
}
