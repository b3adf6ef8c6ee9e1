// Package identity converts a Google OAuth authorization code into a
// verified external identity. The ID token returned by the token endpoint
// is verified against Google's published signing keys before any claim is
// trusted.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer   = "https://accounts.google.com"
)

// Identity is the verified result of an exchange.
type Identity struct {
	Subject       string
	Email         string
	Name          string
	PictureURL    string
	EmailVerified bool
}

// ExchangeError reports a failed identity exchange: a network failure, a
// token-endpoint rejection, or an ID token that does not verify.
type ExchangeError struct {
	Op  string
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("identity exchange: %s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Service performs the OAuth exchange against Google. It is stateless
// apart from the signing-key cache.
type Service struct {
	clientID     string
	clientSecret string
	redirectURL  string
	authURL      string
	tokenURL     string
	jwksURL      string
	httpClient   *http.Client
	keys         *jwksCache
}

type Option func(*Service)

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithEndpoints overrides the provider endpoints. Tests only.
func WithEndpoints(authURL, tokenURL, jwksURL string) Option {
	return func(s *Service) {
		s.authURL = authURL
		s.tokenURL = tokenURL
		s.jwksURL = jwksURL
	}
}

func NewService(clientID, clientSecret, redirectURL string, opts ...Option) *Service {
	s := &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		authURL:      googleAuthURL,
		tokenURL:     googleTokenURL,
		jwksURL:      googleJWKSURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.keys = newJWKSCache(s.httpClient, s.jwksURL)
	return s
}

// AuthorizationURL builds the Google authorization URL carrying the
// encoded flow state.
func (s *Service) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", s.clientID)
	q.Set("redirect_uri", s.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", state)
	return s.authURL + "?" + q.Encode()
}

// Exchange trades the authorization code for tokens and verifies the
// returned ID token. All failures, including timeouts, surface as
// *ExchangeError.
func (s *Service) Exchange(ctx context.Context, code string) (Identity, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("redirect_uri", s.redirectURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Identity{}, &ExchangeError{Op: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Identity{}, &ExchangeError{Op: "token endpoint", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, &ExchangeError{Op: "token endpoint", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, &ExchangeError{Op: "decode token response", Err: err}
	}
	if payload.IDToken == "" {
		return Identity{}, &ExchangeError{Op: "token response", Err: errors.New("missing id_token")}
	}

	return s.verifyIDToken(ctx, payload.IDToken)
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (s *Service) verifyIDToken(ctx context.Context, raw string) (Identity, error) {
	var claims idTokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return s.keys.Get(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(s.clientID),
	)
	if err != nil {
		return Identity{}, &ExchangeError{Op: "verify id_token", Err: err}
	}

	// Google issues both forms of the issuer claim.
	if claims.Issuer != googleIssuer && claims.Issuer != "accounts.google.com" {
		return Identity{}, &ExchangeError{Op: "verify id_token", Err: fmt.Errorf("unexpected issuer %q", claims.Issuer)}
	}
	if claims.Subject == "" || claims.Email == "" {
		return Identity{}, &ExchangeError{Op: "verify id_token", Err: errors.New("missing required claim")}
	}

	return Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		PictureURL:    claims.Picture,
		EmailVerified: claims.EmailVerified,
	}, nil
}
