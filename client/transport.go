package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

// Header names understood by the server.
const (
	HeaderAccessToken  = "x-access-token"
	HeaderRefreshToken = "x-refresh-token"
	HeaderAccountID    = "_id"
)

// RefreshPath is the server's access-token refresh endpoint.
const RefreshPath = "/users/me/access-token"

const defaultRefreshTimeout = 30 * time.Second

var (
	// ErrLoggedOut is returned for 401 responses once the session has been
	// dropped. Store new credentials to leave this state.
	ErrLoggedOut = errors.New("client: logged out")
	// ErrRefreshFailed is returned when the refresh endpoint answered with
	// something other than 200 or 401. The session is kept.
	ErrRefreshFailed = errors.New("client: refresh failed")
)

// Transport attaches the cached access token to requests and recovers from
// expired access tokens.
//
// On a 401 it refreshes the access token once for every concurrent caller
// and replays each original request with the new token. A request that was
// sent with an already replaced token is replayed without refreshing. When
// the refresh endpoint itself answers 401 the credentials are cleared and
// OnLogout runs exactly once.
type Transport struct {
	// Base performs the actual requests. nil means http.DefaultTransport.
	Base http.RoundTripper
	// Credentials is the token cache. Required.
	Credentials *Credentials
	// RefreshURL is the absolute URL of the refresh endpoint.
	RefreshURL string
	// OnLogout is invoked once per transition into the logged-out state.
	OnLogout func()
	// RefreshTimeout bounds one refresh call (default 30s). The call is
	// detached from the cancellation of the request that triggered it.
	RefreshTimeout time.Duration

	group singleflight.Group
}

type skipRefreshContextKey struct{}

// WithoutRefresh marks requests made with ctx as anonymous: the Transport
// attaches no access token and passes a 401 through unchanged. Login and
// signup use it so that rejected credentials are not mistaken for an
// expired session.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshContextKey{}, true)
}

func skipRefresh(ctx context.Context) bool {
	skip, _ := ctx.Value(skipRefreshContextKey{}).(bool)
	return skip
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) isRefreshRequest(req *http.Request) bool {
	u, err := url.Parse(t.RefreshURL)
	if err != nil {
		return req.URL.Path == RefreshPath
	}
	return req.URL.Path == u.Path
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Credentials == nil {
		return nil, errors.New("client: transport has no credentials")
	}
	if t.isRefreshRequest(req) || skipRefresh(req.Context()) {
		return t.base().RoundTrip(req)
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	sent := t.Credentials.AccessToken()
	resp, err := t.send(req, getBody, sent)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	drain(resp)

	if t.Credentials.LoggedOut() {
		return nil, ErrLoggedOut
	}

	// Another caller of the same wave already refreshed.
	if current := t.Credentials.AccessToken(); current != "" && current != sent {
		return t.send(req, getBody, current)
	}

	if err := t.refresh(req.Context(), sent); err != nil {
		return nil, err
	}
	return t.send(req, getBody, t.Credentials.AccessToken())
}

func (t *Transport) send(req *http.Request, getBody func() (io.ReadCloser, error), accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("client: rewind body: %w", err)
		}
		out.Body = body
	}
	if accessToken != "" {
		out.Header.Set(HeaderAccessToken, accessToken)
	} else {
		out.Header.Del(HeaderAccessToken)
	}
	return t.base().RoundTrip(out)
}

// refresh runs one shared refresh. A caller whose context ends stops
// waiting, but the refresh continues for the others. stale is the access
// token that was rejected; if it has been replaced by the time the flight
// starts, nothing is sent.
func (t *Transport) refresh(ctx context.Context, stale string) error {
	ch := t.group.DoChan("refresh", func() (any, error) {
		if current := t.Credentials.AccessToken(); current != "" && current != stale {
			return nil, nil
		}
		timeout := t.RefreshTimeout
		if timeout <= 0 {
			timeout = defaultRefreshTimeout
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return nil, t.doRefresh(rctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) doRefresh(ctx context.Context) error {
	accountID, _, refreshToken := t.Credentials.Snapshot()
	if accountID == "" || refreshToken == "" {
		t.logout()
		return ErrLoggedOut
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.RefreshURL, nil)
	if err != nil {
		return fmt.Errorf("client: build refresh request: %w", err)
	}
	req.Header.Set(HeaderRefreshToken, refreshToken)
	req.Header.Set(HeaderAccountID, accountID)

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		t.logout()
		return ErrLoggedOut
	default:
		return fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	access := resp.Header.Get(HeaderAccessToken)
	if access == "" {
		return fmt.Errorf("%w: response carried no access token", ErrRefreshFailed)
	}
	t.Credentials.applyRefresh(refreshToken, access, resp.Header.Get(HeaderRefreshToken))
	return nil
}

func (t *Transport) logout() {
	if t.Credentials.markLoggedOut() && t.OnLogout != nil {
		t.OnLogout()
	}
}

// replayableBody returns a factory for fresh copies of the request body so
// the request can be sent a second time after a refresh. Bodies without
// GetBody are buffered. The original body is closed either way.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("client: read body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
