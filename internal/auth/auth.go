package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingIdentity = errors.New("authentication required")
	ErrInvalidToken    = errors.New("invalid token")
)

const (
	maxNameLength = 40
	defaultTTL    = 30 * 24 * time.Hour
)

// Identity is the caller as established by a token or, without a secret,
// by development headers.
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New returns an authenticator for HS256 tokens. An empty secret accepts
// X-User-ID / X-User-Name headers instead.
func New(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		ttl:    defaultTTL,
		now:    time.Now,
	}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Issue signs a token for id. It fails when no secret is configured.
func (a *Authenticator) Issue(id Identity) (string, error) {
	if !a.Enabled() {
		return "", errors.New("token signing is disabled")
	}
	if _, err := uuid.Parse(id.UserID); err != nil {
		return "", ErrInvalidToken
	}
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: cleanName(id.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	return token.SignedString(a.secret)
}

func (a *Authenticator) Verify(raw string) (Identity, error) {
	token, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: id.String(), Name: cleanName(c.Name)}, nil
}

// FromRequest reads the caller's identity. Browsers cannot set headers on a
// websocket upgrade, so a token query parameter is accepted too.
func (a *Authenticator) FromRequest(r *http.Request) (Identity, error) {
	if a.Enabled() {
		raw := bearer(r.Header.Get("Authorization"))
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			return Identity{}, ErrMissingIdentity
		}
		return a.Verify(raw)
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	name := r.Header.Get("X-User-Name")
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
		name = r.URL.Query().Get("name")
	}
	if userID == "" {
		return Identity{}, ErrMissingIdentity
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: id.String(), Name: cleanName(name)}, nil
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func cleanName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	runes := []rune(name)
	if len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}
	return name
}
