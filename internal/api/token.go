package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// tokenResponse is the login server's refresh-token exchange response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	APIServer    string `json:"api_server"`
}

// RefreshingTokenProvider exchanges a refresh token at the login server and
// caches the resulting access token until shortly before expiry. Each
// exchange also rotates the stored refresh token, matching the provider's
// single-use refresh token scheme.
type RefreshingTokenProvider struct {
	loginURL string
	client   *http.Client
	logger   *slog.Logger

	mu           sync.Mutex
	refreshToken string
	current      Token
	expiresAt    time.Time
}

var _ TokenProvider = (*RefreshingTokenProvider)(nil)

// expirySlack is how early a cached token is considered expired, so calls in
// flight never carry a token about to lapse.
const expirySlack = 60 * time.Second

// NewRefreshingTokenProvider creates a provider seeded with a refresh token.
func NewRefreshingTokenProvider(loginURL, refreshToken string, logger *slog.Logger) *RefreshingTokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshingTokenProvider{
		loginURL:     loginURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger.With("component", "token_provider"),
		refreshToken: refreshToken,
	}
}

// Token implements TokenProvider, refreshing when the cached token is absent
// or near expiry.
func (p *RefreshingTokenProvider) Token(ctx context.Context) (Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current.AccessToken != "" && time.Now().Before(p.expiresAt.Add(-expirySlack)) {
		return p.current, nil
	}
	return p.refresh(ctx)
}

// refresh performs the exchange. Caller holds the lock.
func (p *RefreshingTokenProvider) refresh(ctx context.Context) (Token, error) {
	if p.refreshToken == "" {
		return Token{}, NewAuthError(CodeAuthFailed, "no refresh token configured", 0)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.refreshToken)

	u := p.loginURL + "?" + form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Token{}, NewAuthError(CodeAuthFailed, fmt.Sprintf("building token request: %v", err), 0)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Token{}, NewAuthError(CodeAuthFailed, fmt.Sprintf("token exchange failed: %v", err), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, NewAuthError(CodeAuthFailed, fmt.Sprintf("reading token response: %v", err), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, NewAuthError(CodeAuthFailed,
			fmt.Sprintf("login server rejected refresh token: %s", string(body)), resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, NewAuthError(CodeAuthFailed, fmt.Sprintf("decoding token response: %v", err), resp.StatusCode)
	}
	if tr.AccessToken == "" || tr.APIServer == "" {
		return Token{}, NewAuthError(CodeAuthFailed, "token response missing access token or api server", resp.StatusCode)
	}

	p.refreshToken = tr.RefreshToken
	p.current = Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		APIServer:   tr.APIServer,
	}
	p.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	p.logger.Info("access token refreshed",
		"api_server", tr.APIServer,
		"expires_in", tr.ExpiresIn)
	return p.current, nil
}
