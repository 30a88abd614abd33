// Package confirm issues and verifies the HMAC-signed bearer tokens that
// gate critical operations. A token binds a specific plan hash to a
// wall-clock expiry; nothing else is encoded.
package confirm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// DefaultSecret is the development sentinel. Production startup must
// refuse to run with it.
const DefaultSecret = "insecure-dev-confirm-secret"

// Verification outcomes.
const (
	OK       = "ok"
	Invalid  = "invalid"
	Expired  = "expired"
	Mismatch = "mismatch"
)

var ErrDefaultSecret = errors.New("confirmation secret must be set in production")

type payload struct {
	PlanHash string `json:"plan_hash"`
	Exp      int64  `json:"exp"`
}

// Service signs and checks confirmation tokens with a process-wide
// secret.
type Service struct {
	secret []byte
}

// NewService builds a Service. In production mode the default sentinel
// secret is rejected.
func NewService(secret string, production bool) (*Service, error) {
	if secret == "" {
		secret = DefaultSecret
	}
	if production && secret == DefaultSecret {
		return nil, ErrDefaultSecret
	}
	return &Service{secret: []byte(secret)}, nil
}

// Issue emits b64url(payload) + "." + b64url(HMAC-SHA256(secret,
// b64url(payload))).
func (s *Service) Issue(planHash string, expiryUnix int64) (string, error) {
	data, err := json.Marshal(payload{PlanHash: planHash, Exp: expiryUnix})
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(data)
	return body + "." + s.sign(body), nil
}

// Verify checks a token against the expected plan hash at the given
// time. Check order is fixed: structure and signature first (invalid),
// then plan binding (mismatch), then expiry (expired).
func (s *Service) Verify(token, expectedPlanHash string, nowUnix int64) string {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Invalid
	}
	if !hmac.Equal([]byte(s.sign(parts[0])), []byte(parts[1])) {
		return Invalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Invalid
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Invalid
	}
	if p.PlanHash != expectedPlanHash {
		return Mismatch
	}
	if nowUnix >= p.Exp {
		return Expired
	}
	return OK
}

func (s *Service) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
