package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/davidahmann/charter/internal/config"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

const (
	MethodStaticToken = "token"
	MethodJWT         = "jwt"
	MethodNone        = "none"
)

type Claims struct {
	Subject string
	Issuer  string
	Method  string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Claims, error)
}

// JWTValidator checks HS256 bearer tokens against a shared secret.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
}

func NewJWTValidator(secret, issuer, audience string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer, audience: audience}
}

func (v *JWTValidator) Validate(tokenStr string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	registered := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, registered, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || registered.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{Subject: registered.Subject, Issuer: registered.Issuer, Method: MethodJWT}, nil
}

// MultiAuthenticator accepts any configured static token or a valid JWT.
// With nothing configured every request is let through as anonymous.
type MultiAuthenticator struct {
	tokens [][sha256.Size]byte
	jwt    *JWTValidator
}

func NewAuthenticator(cfg config.AuthConfig) *MultiAuthenticator {
	a := &MultiAuthenticator{jwt: NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)}
	for _, tok := range cfg.Tokens {
		a.tokens = append(a.tokens, sha256.Sum256([]byte(tok)))
	}
	return a
}

func (a *MultiAuthenticator) open() bool {
	return len(a.tokens) == 0 && a.jwt == nil
}

func (a *MultiAuthenticator) Authenticate(r *http.Request) (Claims, error) {
	if a.open() {
		return Claims{Subject: "anonymous", Method: MethodNone}, nil
	}
	bearer, err := extractBearer(r)
	if err != nil {
		return Claims{}, err
	}

	sum := sha256.Sum256([]byte(bearer))
	matched := 0
	for i := range a.tokens {
		matched |= subtle.ConstantTimeCompare(sum[:], a.tokens[i][:])
	}
	if matched == 1 {
		return Claims{Subject: "static-token", Method: MethodStaticToken}, nil
	}

	if a.jwt != nil {
		claims, err := a.jwt.Validate(bearer)
		if err == nil {
			return claims, nil
		}
		return Claims{}, err
	}
	return Claims{}, ErrInvalidToken
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the caller identity stored by Middleware.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Middleware rejects unauthenticated requests with 401 via onError and
// stores the caller's claims on the request context.
func Middleware(a Authenticator, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.Authenticate(r)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
