// Package signer issues and checks bounded-lifetime access signatures
// appended to playlist and segment URLs, so segment fetches made by
// external HLS players need no cookie or header credentials.
package signer

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sigParam = "sig"

var (
	ErrMissingSignature = errors.New("missing access signature")
	ErrInvalidSignature = errors.New("invalid access signature")
)

// Signer appends an HS256 token binding a URL's path and query; the
// token expires after the configured TTL.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func New(key string, ttl time.Duration) *Signer {
	return &Signer{key: []byte(key), ttl: ttl, now: time.Now}
}

// GenerateKey returns a random hex key suitable for SigningKey.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Sign appends the access signature to rawURL as its final query
// parameter. The signed URL must be presented unmodified.
func (s *Signer) Sign(rawURL string) string {
	claims := jwt.MapClaims{
		"u":   rawURL,
		"exp": s.now().Add(s.ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		log.Printf("[signer] failed to sign %s: %v", rawURL, err)
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + sigParam + "=" + token
}

// Verify checks the signature carried by the request URL. The signature
// must be the final query parameter, exactly as Sign emitted it.
func (s *Signer) Verify(u *url.URL) error {
	raw := u.Path
	if u.RawQuery != "" {
		raw += "?" + u.RawQuery
	}

	idx := strings.LastIndex(raw, "&"+sigParam+"=")
	sepLen := len(sigParam) + 2
	if idx < 0 {
		idx = strings.LastIndex(raw, "?"+sigParam+"=")
	}
	if idx < 0 {
		return ErrMissingSignature
	}
	canonical := raw[:idx]
	tokenString := raw[idx+sepLen:]

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalidSignature
	}
	signed, _ := claims["u"].(string)
	if signed != canonical {
		return fmt.Errorf("%w: URL does not match signature", ErrInvalidSignature)
	}
	return nil
}
