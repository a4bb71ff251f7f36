package attendance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ryan-ian/roomhub/internal/models"
)

// Signer issues and verifies the short-lived tokens embedded in
// meeting QR codes. A token binds a booking id, its issue time and an
// expiry, and is signed with HMAC-SHA256 so handlers can verify it
// without a store round trip.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner builds a signer. ttl must be positive.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &Signer{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue signs a token for the booking, valid from now for the
// configured ttl.
func (s *Signer) Issue(bookingID int64, now time.Time) string {
	payload := fmt.Sprintf("%d.%d.%d", bookingID, now.Unix(), now.Add(s.ttl).Unix())
	return encode(payload) + "." + encode(s.sign(payload))
}

// Verify checks the signature and expiry and returns the embedded
// booking id. Expired and malformed tokens come back as guard errors
// with stable codes.
func (s *Signer) Verify(token string, now time.Time) (int64, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 {
		return 0, &models.GuardError{Code: models.GuardTokenInvalid, Detail: "malformed token"}
	}
	payload, err := decode(token[:dot])
	if err != nil {
		return 0, &models.GuardError{Code: models.GuardTokenInvalid, Detail: "malformed token"}
	}
	sig, err := decode(token[dot+1:])
	if err != nil || !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return 0, &models.GuardError{Code: models.GuardTokenInvalid, Detail: "bad signature"}
	}

	parts := strings.Split(payload, ".")
	if len(parts) != 3 {
		return 0, &models.GuardError{Code: models.GuardTokenInvalid, Detail: "malformed payload"}
	}
	bookingID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, &models.GuardError{Code: models.GuardTokenInvalid, Detail: "malformed payload"}
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, &models.GuardError{Code: models.GuardTokenInvalid, Detail: "malformed payload"}
	}
	if !now.Before(time.Unix(expiry, 0)) {
		return 0, &models.GuardError{Code: models.GuardTokenExpired}
	}
	return bookingID, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return string(mac.Sum(nil))
}

func encode(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decode(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	return string(b), err
}
