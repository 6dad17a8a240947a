package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"

	"golang.org/x/crypto/pbkdf2"

	"github.com/lawik/hub-link/internal/auth/etf"
)

const (
	algName    = "sha256"
	iterations = 1000
	keyLength  = 32
	maxAgeSecs = 86400

	// protocolHS256 is base64url("HS256") without padding, the Plug.Crypto
	// MessageVerifier protocol header for HMAC-SHA256.
	protocolHS256 = "SFMyNTY"
)

// SharedSecret authenticates by signing request headers with a
// PBKDF2-derived key and an HMAC-SHA256 signature over a Plug.Crypto
// compatible token.
type SharedSecret struct {
	Key    string
	Secret string
}

// Algorithm returns the algorithm string sent in the x-nh-alg header.
func (s SharedSecret) Algorithm() string {
	return fmt.Sprintf("NH1-HMAC-%s-%d-%d", algName, iterations, keyLength)
}

// Headers returns the four x-nh-* headers, keyed by name, for a
// connection authenticating as identifier at the current time. The map
// carries no order; HeaderOrder lists the order they are sent in.
func (s SharedSecret) Headers(identifier string, now func() int64) (map[string]string, error) {
	return s.HeadersAt(identifier, now())
}

// HeadersAt is Headers with an explicit Unix-seconds timestamp, exposed
// for deterministic testing.
func (s SharedSecret) HeadersAt(identifier string, t int64) (map[string]string, error) {
	alg := s.Algorithm()
	timeStr := strconv.FormatInt(t, 10)

	signature, err := s.computeSignature(identifier, alg, timeStr, t)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"x-nh-alg":       alg,
		"x-nh-key":       s.Key,
		"x-nh-time":      timeStr,
		"x-nh-signature": signature,
	}, nil
}

// HeaderOrder is the order the server expects these headers in.
var HeaderOrder = []string{"x-nh-alg", "x-nh-key", "x-nh-time", "x-nh-signature"}

func (s SharedSecret) computeSignature(identifier, alg, timeStr string, t int64) (string, error) {
	salt := fmt.Sprintf(
		"NH1:device-socket:shared-secret:connect\n\nx-nh-alg=%s\nx-nh-key=%s\nx-nh-time=%s\n",
		alg, s.Key, timeStr,
	)

	derivedKey := pbkdf2.Key([]byte(s.Secret), []byte(salt), iterations, keyLength, sha256.New)

	signedAtMs := uint64(t) * 1000
	term := etf.EncodeToken(identifier, signedAtMs, maxAgeSecs)
	payloadSegment := base64.RawURLEncoding.EncodeToString(term)

	signingInput := protocolHS256 + "." + payloadSegment

	mac := hmac.New(sha256.New, derivedKey)
	mac.Write([]byte(signingInput))
	sigSegment := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return protocolHS256 + "." + payloadSegment + "." + sigSegment, nil
}
