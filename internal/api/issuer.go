package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Token is the bearer credential and server assignment for one session. The
// provider assigns each session a dedicated API server host.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	APIServer   string `json:"api_server"`
}

// TokenProvider supplies the current token for outbound calls. Implementations
// may refresh behind the scenes; the executor re-fetches per request.
type TokenProvider interface {
	Token(ctx context.Context) (Token, error)
}

// StaticTokenProvider returns a fixed token. Useful for tests and short-lived
// scripted sessions.
type StaticTokenProvider struct {
	Tok Token
}

func (p StaticTokenProvider) Token(ctx context.Context) (Token, error) {
	return p.Tok, nil
}

// Response is the raw outcome of one issued request, before classification.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestIssuer performs a single HTTP exchange. It does not retry, govern,
// or classify; that is the executor's job.
type RequestIssuer interface {
	Issue(ctx context.Context, method, path string, query url.Values) (*Response, error)
}

// HTTPIssuer issues requests against the session's API server with a shared,
// connection-pooled client.
type HTTPIssuer struct {
	client *http.Client
	tokens TokenProvider
}

var _ RequestIssuer = (*HTTPIssuer)(nil)

// NewHTTPIssuer creates an issuer with a tuned transport. Timeout bounds the
// full exchange including body read; zero means 30 seconds.
func NewHTTPIssuer(tokens TokenProvider, timeout time.Duration) *HTTPIssuer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPIssuer{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		tokens: tokens,
	}
}

// Issue performs one exchange against the token's API server. Transport-level
// failures are reported as GeneralError with the connection failure code so
// callers see a uniform taxonomy.
func (h *HTTPIssuer) Issue(ctx context.Context, method, path string, query url.Values) (*Response, error) {
	tok, err := h.tokens.Token(ctx)
	if err != nil {
		return nil, NewAuthError(CodeAuthFailed, fmt.Sprintf("fetching access token: %v", err), 0)
	}

	u, err := url.Parse(tok.APIServer)
	if err != nil {
		return nil, NewGeneralError(CodeUnexpected, fmt.Sprintf("invalid api server %q: %v", tok.APIServer, err), 0)
	}
	u = u.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, NewGeneralError(CodeUnexpected, fmt.Sprintf("building request: %v", err), 0)
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	req.Header.Set("Authorization", tokenType+" "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewGeneralError(CodeConnectionFailed, fmt.Sprintf("connection to %s failed: %v", u.Host, err), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewGeneralError(CodeConnectionFailed, fmt.Sprintf("reading response body: %v", err), resp.StatusCode)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
