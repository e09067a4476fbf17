package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/charter/internal/config"
)

func signHS256(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func request(bearer string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	return r
}

func TestOpenAuthenticatorAllowsAnonymous(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{})
	claims, err := a.Authenticate(request(""))
	require.NoError(t, err)
	require.Equal(t, MethodNone, claims.Method)
}

func TestStaticTokens(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{Tokens: []string{"alpha", "beta"}})

	claims, err := a.Authenticate(request("beta"))
	require.NoError(t, err)
	require.Equal(t, MethodStaticToken, claims.Method)

	_, err = a.Authenticate(request("gamma"))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Authenticate(request(""))
	require.ErrorIs(t, err, ErrMissingBearer)

	r := request("")
	r.Header.Set("Authorization", "Basic abc")
	_, err = a.Authenticate(r)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "charter", JWTAudience: "gateway"})
	now := time.Now()
	good := jwt.RegisteredClaims{
		Subject:   "agent-7",
		Issuer:    "charter",
		Audience:  jwt.ClaimStrings{"gateway"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	claims, err := a.Authenticate(request(signHS256(t, "s3cret", good)))
	require.NoError(t, err)
	require.Equal(t, Claims{Subject: "agent-7", Issuer: "charter", Method: MethodJWT}, claims)

	cases := map[string]func(c *jwt.RegisteredClaims) string{
		"wrong secret": func(c *jwt.RegisteredClaims) string { return signHS256(t, "other", *c) },
		"expired": func(c *jwt.RegisteredClaims) string {
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
			return signHS256(t, "s3cret", *c)
		},
		"no expiry": func(c *jwt.RegisteredClaims) string {
			c.ExpiresAt = nil
			return signHS256(t, "s3cret", *c)
		},
		"wrong issuer": func(c *jwt.RegisteredClaims) string {
			c.Issuer = "someone"
			return signHS256(t, "s3cret", *c)
		},
		"wrong audience": func(c *jwt.RegisteredClaims) string {
			c.Audience = jwt.ClaimStrings{"elsewhere"}
			return signHS256(t, "s3cret", *c)
		},
		"no subject": func(c *jwt.RegisteredClaims) string {
			c.Subject = ""
			return signHS256(t, "s3cret", *c)
		},
	}
	for name, mk := range cases {
		t.Run(name, func(t *testing.T) {
			c := good
			_, err := a.Authenticate(request(mk(&c)))
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddlewareStoresClaims(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{Tokens: []string{"alpha"}})
	var seen Claims
	h := Middleware(a, func(w http.ResponseWriter, _ *http.Request, err error) {
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrMissingBearer) && !errors.Is(err, ErrInvalidToken) {
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("alpha"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, MethodStaticToken, seen.Method)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("nope"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
