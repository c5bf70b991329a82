// Package auth is a stand-in OAuth2 client-credentials issuer. It hands out
// opaque bearer tokens and performs the minimal header check the API needs.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	GrantClientCredentials = "client_credentials"
	TokenTypeBearer        = "Bearer"

	tokenPrefix    = "mock_token_"
	minTokenLength = 10
)

var (
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrUnauthorized         = errors.New("unauthorized")
)

// Token is the OAuth2 token response body.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Issuer issues tokens and checks Authorization headers. Without Strict any
// well-formed bearer token is accepted.
type Issuer struct {
	TTL    time.Duration
	Scope  string
	Strict bool

	mu     sync.Mutex
	issued map[string]time.Time
	now    func() time.Time
}

// NewIssuer returns an issuer with the given token lifetime and scope.
func NewIssuer(ttl time.Duration, scope string, strict bool) *Issuer {
	return &Issuer{
		TTL:    ttl,
		Scope:  scope,
		Strict: strict,
		issued: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue grants a token for the client-credentials flow.
func (i *Issuer) Issue(grantType, clientID, clientSecret string) (Token, error) {
	if grantType != GrantClientCredentials {
		return Token{}, ErrUnsupportedGrantType
	}
	if clientID == "" || clientSecret == "" {
		return Token{}, ErrInvalidClient
	}

	token := tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")

	i.mu.Lock()
	i.issued[token] = i.now().Add(i.TTL)
	i.pruneLocked()
	i.mu.Unlock()

	return Token{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(i.TTL / time.Second),
		Scope:       i.Scope,
	}, nil
}

// Authorize checks an Authorization header value.
func (i *Issuer) Authorize(header string) error {
	token, ok := strings.CutPrefix(header, TokenTypeBearer+" ")
	if !ok || len(token) <= minTokenLength {
		return ErrUnauthorized
	}
	if !i.Strict {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	expiry, ok := i.issued[token]
	if !ok || !i.now().Before(expiry) {
		return ErrUnauthorized
	}
	return nil
}

func (i *Issuer) pruneLocked() {
	now := i.now()
	for token, expiry := range i.issued {
		if !now.Before(expiry) {
			delete(i.issued, token)
		}
	}
}
