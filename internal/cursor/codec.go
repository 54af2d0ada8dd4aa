package cursor

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Data is the pagination resume point round-tripped through the client.
// Never persisted server-side.
type Data struct {
	Timestamp int64
	PostID    int64
	Offset    int
}

var ErrSigning = errors.New("cursor signing failed")

// Codec signs and verifies opaque pagination cursors with HMAC-SHA256 so they
// are unforgeable to clients while remaining stateless server-side.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = 60 * time.Minute
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

type cursorClaims struct {
	Timestamp int64 `json:"ts"`
	PostID    int64 `json:"post_id"`
	Offset    int   `json:"offset"`
	jwt.RegisteredClaims
}

// Sign encodes d as a time-boxed signed token.
func (c *Codec) Sign(d Data) (string, error) {
	now := c.now()
	claims := cursorClaims{
		Timestamp: d.Timestamp,
		PostID:    d.PostID,
		Offset:    d.Offset,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", errors.Join(ErrSigning, err)
	}
	return token, nil
}

// Verify decodes a signed token. Returns nil on malformed input, signature
// mismatch, expiry, or nonsense resume data; invalid cursors mean "start from
// the beginning", never an error surfaced to the caller.
func (c *Codec) Verify(token string) *Data {
	if token == "" {
		return nil
	}

	parsed, err := jwt.ParseWithClaims(token, &cursorClaims{}, func(t *jwt.Token) (any, error) {
		// prevent alg confusion
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil
	}

	claims, ok := parsed.Claims.(*cursorClaims)
	if !ok || !parsed.Valid {
		return nil
	}
	if claims.Timestamp <= 0 || claims.PostID <= 0 {
		return nil
	}

	return &Data{Timestamp: claims.Timestamp, PostID: claims.PostID, Offset: claims.Offset}
}
