// Package token verifies the capability tokens issued by the identity
// service. A token carries the subject (user ID) and the topic patterns the
// bearer may subscribe to; this service only verifies, it never issues.
package token

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a capability token.
type Claims struct {
	jwt.RegisteredClaims
	// Topics the bearer may subscribe to. A trailing "/*" matches any
	// suffix, e.g. "room/*" or "user/u1/*".
	Topics []string `json:"topics,omitempty"`
}

// Verifier parses and validates capability tokens with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses the token, checks the signature and expiry, and returns the
// claims. The subject claim must be present.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("verify token: missing subject")
	}
	return claims, nil
}

// UserID returns the subject the token was issued for.
func (c *Claims) UserID() string { return c.Subject }

// Allows reports whether the token grants a subscription to topic. An empty
// topic list grants nothing.
func (c *Claims) Allows(topic string) bool {
	for _, t := range c.Topics {
		if t == topic {
			return true
		}
		if pre, ok := strings.CutSuffix(t, "/*"); ok && strings.HasPrefix(topic, pre+"/") {
			return true
		}
	}
	return false
}
