package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultIssuer = "mis-backend"

var (
	ErrNoSecret     = errors.New("token secret is empty")
	ErrNoSubject    = errors.New("token subject is empty")
	ErrBadExpiry    = errors.New("token expiry must be positive")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims identify the account a token was issued to. The subject is the
// user id. Role is informational; the backend re-reads the profile on every
// request.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
	Now    func() time.Time
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{Secret: secret, Expiry: 7 * 24 * time.Hour, Issuer: DefaultIssuer}
}

func (cfg TokenConfig) clock() time.Time {
	if cfg.Now == nil {
		return time.Now()
	}
	return cfg.Now()
}

// Subject is who a token is issued to.
type Subject struct {
	UserID string
	Email  string
	Role   string
}

func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateToken signs an HS256 token for sub with a random jti, so that a
// single token can be revoked.
func CreateToken(sub Subject, cfg TokenConfig) (string, *Claims, error) {
	switch {
	case cfg.Secret == "":
		return "", nil, ErrNoSecret
	case sub.UserID == "":
		return "", nil, ErrNoSubject
	case cfg.Expiry <= 0:
		return "", nil, ErrBadExpiry
	}
	jti, err := newJTI()
	if err != nil {
		return "", nil, err
	}

	issued := cfg.clock()
	claims := &Claims{Email: sub.Email, Role: sub.Role}
	claims.Subject = sub.UserID
	claims.Issuer = cfg.Issuer
	claims.ID = jti
	claims.IssuedAt = jwt.NewNumericDate(issued)
	claims.ExpiresAt = jwt.NewNumericDate(issued.Add(cfg.Expiry))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// VerifyToken checks signature, algorithm, expiry and issuer.
func VerifyToken(token string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(cfg.clock),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
