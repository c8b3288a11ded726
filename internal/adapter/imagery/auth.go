package imagery

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

const (
	// DefaultAudience is the audience of self-signed service-account tokens.
	DefaultAudience = "https://earthengine.googleapis.com/"
	// Scope is requested when the signed assertion is exchanged for an access token.
	Scope = "https://www.googleapis.com/auth/earthengine"

	tokenLifetime = time.Hour
	refreshSkew   = time.Minute
	jwtBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// ServiceAccount is the subset of a service-account key file the client needs.
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ProjectID    string `json:"project_id"`
	TokenURI     string `json:"token_uri"`
}

// LoadServiceAccount reads and validates a JSON key file.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account: %w", err)
	}
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("decode service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("service account is missing client_email or private_key")
	}
	return &sa, nil
}

// TokenSource signs RS256 assertions for a service account and caches the
// resulting bearer token until shortly before it expires. When tokenURL is set
// the assertion is exchanged for an access token; otherwise the signed JWT is
// itself the bearer token.
type TokenSource struct {
	account    *ServiceAccount
	key        *rsa.PrivateKey
	audience   string
	tokenURL   string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource parses the account's private key. It is built once per process and shared.
func NewTokenSource(account *ServiceAccount, audience, tokenURL string, httpClient *http.Client, clock clockwork.Clock, logger *slog.Logger) (*TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	if audience == "" {
		audience = DefaultAudience
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{
		account:    account,
		key:        key,
		audience:   audience,
		tokenURL:   tokenURL,
		httpClient: httpClient,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Token returns a valid bearer token, refreshing it when it is about to expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	token, _, err := ts.current(ctx)
	return token, err
}

// OAuth2 adapts the source for oauth2 transports. Refreshes run under ctx.
func (ts *TokenSource) OAuth2(ctx context.Context) oauth2.TokenSource {
	return oauth2TokenSource{ctx: ctx, source: ts}
}

type oauth2TokenSource struct {
	ctx    context.Context
	source *TokenSource
}

func (s oauth2TokenSource) Token() (*oauth2.Token, error) {
	token, expiry, err := s.source.current(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer", Expiry: expiry}, nil
}

func (ts *TokenSource) current(ctx context.Context) (string, time.Time, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock.Now()
	if ts.token != "" && now.Add(refreshSkew).Before(ts.expiry) {
		return ts.token, ts.expiry, nil
	}

	var (
		token  string
		expiry time.Time
		err    error
	)
	if ts.tokenURL == "" {
		token, expiry, err = ts.sign(now, ts.audience, "")
	} else {
		token, expiry, err = ts.exchange(ctx, now)
	}
	if err != nil {
		return "", time.Time{}, err
	}

	ts.token, ts.expiry = token, expiry
	ts.logger.Debug("imagery token refreshed", "client_email", ts.account.ClientEmail, "expires_at", expiry)
	return token, expiry, nil
}

type assertionClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (ts *TokenSource) sign(now time.Time, audience, scope string) (string, time.Time, error) {
	expiry := now.Add(tokenLifetime)
	claims := assertionClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.account.ClientEmail,
			Subject:   ts.account.ClientEmail,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if ts.account.PrivateKeyID != "" {
		token.Header["kid"] = ts.account.PrivateKeyID
	}
	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign assertion: %w", err)
	}
	return signed, expiry, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (ts *TokenSource) exchange(ctx context.Context, now time.Time) (string, time.Time, error) {
	assertion, _, err := ts.sign(now, ts.tokenURL, Scope)
	if err != nil {
		return "", time.Time{}, err
	}

	form := url.Values{"grant_type": {jwtBearer}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", time.Time{}, fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, errors.New("token exchange: empty access_token")
	}
	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = tokenLifetime
	}
	return tr.AccessToken, now.Add(lifetime), nil
}
