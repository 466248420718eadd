// Package checkin issues and redeems short-lived class check-in tokens.
package checkin

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"academyportal/internal/apperr"
	"academyportal/internal/schedule"
)

// DefaultWindow is how long a check-in token stays redeemable.
const DefaultWindow = 15 * time.Minute

// Payload is the content of a check-in token. Timestamps are epoch millis.
type Payload struct {
	ScheduleID int64  `json:"scheduleId"`
	Date       string `json:"date"`
	IssuedAt   int64  `json:"issuedAt"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// ExpiresTime returns ExpiresAt as a time.
func (p Payload) ExpiresTime() time.Time {
	return time.UnixMilli(p.ExpiresAt).UTC()
}

// IssuedTime returns IssuedAt as a time.
func (p Payload) IssuedTime() time.Time {
	return time.UnixMilli(p.IssuedAt).UTC()
}

// IsExpired reports whether now is past the payload's expiry.
func IsExpired(p Payload, now time.Time) bool {
	return now.UnixMilli() > p.ExpiresAt
}

func (p Payload) validate() error {
	if p.ScheduleID <= 0 || p.IssuedAt <= 0 || p.ExpiresAt <= 0 || p.ExpiresAt < p.IssuedAt {
		return apperr.ErrMalformedToken
	}
	if _, err := time.Parse(schedule.DateLayout, p.Date); err != nil {
		return apperr.ErrMalformedToken
	}
	return nil
}

type signedClaims struct {
	Payload
	jwt.RegisteredClaims
}

// Codec turns occurrences into self-contained tokens and back. Without a
// key, tokens are unpadded base64url JSON and anyone who knows the format
// can mint one; with a key they are HS256 JWTs and tampering is rejected as
// malformed. Codec is stateless and safe for concurrent use.
type Codec struct {
	window time.Duration
	key    []byte
	issuer string
	now    func() time.Time
}

// NewCodec creates a codec. An empty key selects the unsigned format.
func NewCodec(window time.Duration, key, issuer string) *Codec {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Codec{window: window, issuer: issuer, now: time.Now}
	if key != "" {
		c.key = []byte(key)
	}
	return c
}

// WithClock overrides the time source.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Signed reports whether tokens carry a MAC.
func (c *Codec) Signed() bool {
	return len(c.key) > 0
}

// Window returns the validity window.
func (c *Codec) Window() time.Duration {
	return c.window
}

// Encode builds a token for one class occurrence, valid from now for the
// codec's window.
func (c *Codec) Encode(scheduleID int64, date string) (string, Payload, error) {
	if scheduleID <= 0 {
		return "", Payload{}, fmt.Errorf("%w: schedule id must be positive", apperr.ErrInvalidInput)
	}
	if _, err := schedule.ParseDate(date); err != nil {
		return "", Payload{}, err
	}
	issued := c.now()
	p := Payload{
		ScheduleID: scheduleID,
		Date:       date,
		IssuedAt:   issued.UnixMilli(),
		ExpiresAt:  issued.Add(c.window).UnixMilli(),
	}

	if c.Signed() {
		claims := signedClaims{Payload: p, RegisteredClaims: jwt.RegisteredClaims{Issuer: c.issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
		if err != nil {
			return "", Payload{}, fmt.Errorf("sign check-in token: %w", err)
		}
		return token, p, nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return "", Payload{}, fmt.Errorf("encode check-in token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(body), p, nil
}

// Decode parses a token. Every parse failure is apperr.ErrMalformedToken;
// expiry is not checked here.
func (c *Codec) Decode(token string) (Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Payload{}, apperr.ErrMalformedToken
	}
	if c.Signed() {
		return c.decodeSigned(token)
	}
	return decodePlain(token)
}

// Expired reports whether p is past its expiry according to the codec clock.
func (c *Codec) Expired(p Payload) bool {
	return IsExpired(p, c.now())
}

func (c *Codec) decodeSigned(token string) (Payload, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	var claims signedClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	}, opts...)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", apperr.ErrMalformedToken, err)
	}
	if err := claims.Payload.validate(); err != nil {
		return Payload{}, err
	}
	return claims.Payload, nil
}

var encodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

func decodePlain(token string) (Payload, error) {
	var (
		body []byte
		err  error
	)
	for _, enc := range encodings {
		if body, err = enc.DecodeString(token); err == nil {
			break
		}
	}
	if err != nil {
		return Payload{}, apperr.ErrMalformedToken
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Payload{}, fmt.Errorf("%w: field %s", apperr.ErrMalformedToken, typeErr.Field)
		}
		return Payload{}, apperr.ErrMalformedToken
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
