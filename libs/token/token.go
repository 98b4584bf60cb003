// Package token signs and verifies the compact HS256 tokens embedded in
// appointment confirmation links.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Confirmation binds a token to one appointment of one tenant.
type Confirmation struct {
	TenantID      string `json:"tid"`
	AppointmentID string `json:"aid"`
	Exp           int64  `json:"exp"`
	Iat           int64  `json:"iat"`
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Configured() bool {
	return s != nil && len(s.secret) > 0
}

// Sign issues a token that expires ttl after now, or at notAfter if that is
// later (so links stay valid until the appointment itself).
func (s *Signer) Sign(tenantID, appointmentID string, notAfter time.Time) (string, error) {
	if !s.Configured() {
		return "", errors.New("token signer has no secret")
	}
	now := s.now()
	exp := now.Add(s.ttl)
	if notAfter.After(exp) {
		exp = notAfter
	}
	return s.sign(Confirmation{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		Iat:           now.Unix(),
		Exp:           exp.Unix(),
	})
}

func (s *Signer) sign(c Confirmation) (string, error) {
	headerJSON, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return unsigned + "." + s.mac(unsigned), nil
}

func (s *Signer) Verify(raw string) (*Confirmation, error) {
	if !s.Configured() {
		return nil, ErrInvalidToken
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	unsigned := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(s.mac(unsigned))) {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var c Confirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, ErrInvalidToken
	}
	if c.TenantID == "" || c.AppointmentID == "" {
		return nil, ErrInvalidToken
	}
	if c.Exp > 0 && s.now().Unix() > c.Exp {
		return nil, ErrExpiredToken
	}
	return &c, nil
}

func (s *Signer) mac(data string) string {
	m := hmac.New(sha256.New, s.secret)
	_, _ = m.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
