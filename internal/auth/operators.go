package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/robcowart/certseal/internal/config"
)

// ErrInvalidCredentials is returned for an unknown operator or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// Session is the result of a successful login
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authenticator checks operator credentials and mints tokens
type Authenticator struct {
	operators map[string]config.OperatorConfig
	jwt       config.JWTConfig
	dummy     []byte
}

// NewAuthenticator builds an Authenticator from the configured operators
func NewAuthenticator(operators []config.OperatorConfig, jwtCfg config.JWTConfig) (*Authenticator, error) {
	byName := make(map[string]config.OperatorConfig, len(operators))
	for _, op := range operators {
		if _, err := bcrypt.Cost([]byte(op.PasswordHash)); err != nil {
			return nil, fmt.Errorf("operator %s: invalid password hash: %w", op.Username, err)
		}
		byName[op.Username] = op
	}

	// Unknown usernames are compared against this so a miss costs as much as a hit.
	dummy, err := bcrypt.GenerateFromPassword([]byte("certseal-unknown-operator"), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare authenticator: %w", err)
	}

	return &Authenticator{operators: byName, jwt: jwtCfg, dummy: dummy}, nil
}

// Login verifies the credentials and returns a signed session token
func (a *Authenticator) Login(username, password string) (*Session, error) {
	op, ok := a.operators[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummy, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(password, op.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a.Issue(op.Username, op.Role)
}

// Issue mints a token without checking a password. It backs the CLI token
// command, which is trusted with the JWT secret.
func (a *Authenticator) Issue(username, role string) (*Session, error) {
	token, err := GenerateToken(username, role, a.jwt.Secret, a.jwt.Issuer, a.jwt.Expiration)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		Username:  username,
		Role:      role,
		ExpiresAt: time.Now().Add(a.jwt.Expiration).UTC(),
	}, nil
}

// Validate parses a bearer token issued by this authenticator
func (a *Authenticator) Validate(token string) (*Claims, error) {
	return ValidateToken(token, a.jwt.Secret, a.jwt.Issuer)
}
