package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Account is the public account view returned by the server.
type Account struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("client: server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the account API. Requests sent through [Client.Do]
// carry the cached access token and survive access-token expiry.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	creds     *Credentials
	transport *Transport
}

// Option configures a Client.
type Option func(*Client)

// WithBaseTransport sets the RoundTripper that performs the requests.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport.Base = rt }
}

// WithOnLogout registers a callback for the transition into the logged-out
// state, whether caused by a rejected refresh or by [Client.Logout].
func WithOnLogout(fn func()) Option {
	return func(c *Client) { c.transport.OnLogout = fn }
}

// WithCredentials shares a token cache, for example one restored from disk.
func WithCredentials(creds *Credentials) Option {
	return func(c *Client) {
		if creds != nil {
			c.creds = creds
			c.transport.Credentials = creds
		}
	}
}

// WithTimeout sets the overall per-request timeout, replay included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRefreshTimeout bounds a single refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.transport.RefreshTimeout = d }
}

// New returns a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be absolute", baseURL)
	}

	creds := &Credentials{}
	c := &Client{
		baseURL: u,
		creds:   creds,
		transport: &Transport{
			Credentials: creds,
			RefreshURL:  u.String() + RefreshPath,
		},
	}
	c.http = &http.Client{Transport: c.transport}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Credentials returns the token cache.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// Login signs in and stores the returned session.
func (c *Client) Login(ctx context.Context, username, password string) (Account, error) {
	return c.openSession(ctx, "/users/login", map[string]string{
		"username": username,
		"password": password,
	})
}

// Signup creates an account and stores the returned session.
func (c *Client) Signup(ctx context.Context, username, email, password string) (Account, error) {
	return c.openSession(ctx, "/users", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

func (c *Client) openSession(ctx context.Context, path string, body any) (Account, error) {
	resp, err := c.send(WithoutRefresh(ctx), http.MethodPost, path, body, nil)
	if err != nil {
		return Account{}, err
	}
	defer drain(resp)

	var acct Account
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return Account{}, fmt.Errorf("client: decode account: %w", err)
	}
	access := resp.Header.Get(HeaderAccessToken)
	refresh := resp.Header.Get(HeaderRefreshToken)
	if acct.ID == "" || access == "" || refresh == "" {
		return Account{}, errors.New("client: response is missing the session")
	}
	c.creds.Set(acct.ID, access, refresh)
	return acct, nil
}

// Logout ends the server session and clears local credentials. Local state
// is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	accountID, _, refresh := c.creds.Snapshot()
	defer c.transport.logout()

	if accountID == "" || refresh == "" {
		return nil
	}
	resp, err := c.send(WithoutRefresh(ctx), http.MethodDelete, "/users/session", nil, map[string]string{
		HeaderRefreshToken: refresh,
		HeaderAccountID:    accountID,
	})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// RequestPasswordReset asks the server to email a reset token.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	resp, err := c.send(WithoutRefresh(ctx), http.MethodPost, "/send-email", map[string]string{"email": email}, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// ResetPassword sets a new password with a reset token.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	resp, err := c.send(WithoutRefresh(ctx), http.MethodPost, "/reset-password", map[string]string{
		"token":    token,
		"password": password,
	}, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// UsernameAvailable reports whether username is free.
func (c *Client) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	return c.available(ctx, "/users/check-username/"+url.PathEscape(username))
}

// EmailAvailable reports whether email is free.
func (c *Client) EmailAvailable(ctx context.Context, email string) (bool, error) {
	return c.available(ctx, "/users/check-email/"+url.PathEscape(email))
}

func (c *Client) available(ctx context.Context, path string) (bool, error) {
	resp, err := c.send(WithoutRefresh(ctx), http.MethodGet, path, nil, nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("client: decode availability: %w", err)
	}
	return body.Available, nil
}

// Username returns the username of the account with id.
func (c *Client) Username(ctx context.Context, id string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/users/"+url.PathEscape(id)+"/username", nil, nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("client: decode username: %w", err)
	}
	return body.Username, nil
}

// Do sends req through the refreshing transport. A relative URL path is
// appended to the base URL path, keeping its query. Non-2xx responses are
// returned as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !req.URL.IsAbs() {
		req.URL = c.resolve(req.URL)
	}
	return c.http.Do(req)
}

func (c *Client) resolve(ref *url.URL) *url.URL {
	u := c.baseURL.JoinPath(ref.Path)
	u.RawQuery = ref.RawQuery
	u.Fragment = ref.Fragment
	return u
}

func (c *Client) send(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drain(resp)
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
