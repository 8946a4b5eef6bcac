package usecase

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"storefront/internal/domain"
)

const defaultSessionTTL = 24 * time.Hour

// Session is what the signed session cookie carries.
type Session struct {
	ID       string
	Identity *domain.Identity
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// AuthService signs session cookies and runs bank sign-in.
type AuthService struct {
	Providers  ProviderRegistry
	Challenges ChallengeBinder
	JWTSecret  string
	TTL        time.Duration
	Logger     *zap.Logger
}

// NewSession starts an anonymous session.
func (s *AuthService) NewSession() *Session {
	return &Session{ID: newID()}
}

func (s *AuthService) Issue(sess *Session) (string, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if sess.Identity != nil {
		claims.Subject = sess.Identity.Subject
		claims.Email = sess.Identity.Email
		claims.Name = sess.Identity.Name
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.JWTSecret))
}

func (s *AuthService) Verify(token string) (*Session, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, domain.WrapError(domain.ErrorCodeAuthRequired, "invalid session", err)
	}
	if claims.ID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeAuthRequired, "session id missing")
	}
	sess := &Session{ID: claims.ID}
	if claims.Subject != "" {
		sess.Identity = &domain.Identity{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}
	}
	return sess, nil
}

// BeginLogin returns the bank sign-in URL for the session.
func (s *AuthService) BeginLogin(ctx context.Context, sessionID string) (string, error) {
	ch, err := s.Challenges.Bind(sessionID, domain.ProviderBank, domain.PurposeLogin, "")
	if err != nil {
		return "", err
	}
	p, err := s.Providers.Provider(ctx, domain.ProviderBank)
	if err != nil {
		s.Challenges.Discard(sessionID)
		return "", err
	}
	return p.LoginURL(ch), nil
}

// CompleteLogin redeems the sign-in callback and returns the identity.
func (s *AuthService) CompleteLogin(ctx context.Context, sessionID, code, state, providerError string) (*domain.Identity, error) {
	ch, err := s.Challenges.Consume(sessionID, state)
	if err != nil {
		return nil, err
	}
	if ch.Purpose != domain.PurposeLogin {
		return nil, domain.ErrInvalidState
	}
	if providerError != "" {
		return nil, domain.NewDomainError(domain.ErrorCodeProviderAuth, "sign in was not completed").
			WithDetail("providerError", providerError)
	}
	p, err := s.Providers.Provider(ctx, ch.Provider)
	if err != nil {
		return nil, err
	}
	toks, err := p.Exchange(ctx, code, ch)
	if err != nil {
		return nil, err
	}
	if toks.Identity == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeTokenExchange, "identity provider returned no subject")
	}
	s.logger().Info("user signed in", zap.String("sub", toks.Identity.Subject))
	return toks.Identity, nil
}

func (s *AuthService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
