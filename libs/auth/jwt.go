package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identify the caller. Role is one of client, stylist or admin.
type Claims struct {
	Sub  string
	Role string
	Exp  int64
	Iat  int64
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func unixTime(sec int64) *jwt.NumericDate {
	if sec <= 0 {
		return nil
	}
	return jwt.NewNumericDate(time.Unix(sec, 0))
}

func SignHS256(claims Claims, secret string) (string, error) {
	tc := tokenClaims{
		Role: claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			ExpiresAt: unixTime(claims.Exp),
			IssuedAt:  unixTime(claims.Iat),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(secret))
}

// ParseAndVerifyHS256 accepts only HS256 tokens signed with secret. A subject
// is required; exp, when present, must be in the future.
func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	var tc tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid || tc.Subject == "" {
		return nil, ErrInvalidToken
	}
	out := &Claims{Sub: tc.Subject, Role: tc.Role}
	if tc.ExpiresAt != nil {
		out.Exp = tc.ExpiresAt.Unix()
	}
	if tc.IssuedAt != nil {
		out.Iat = tc.IssuedAt.Unix()
	}
	return out, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(raw[7:])
	return token, token != ""
}
