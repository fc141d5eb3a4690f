package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAPI accepts exactly one access token at a time. The refresh endpoint
// mints the next one while refreshOK is set.
type fakeAPI struct {
	mu        sync.Mutex
	valid     string
	generated int
	refreshOK bool
	rotate    bool
	refresh   string

	refreshCalls atomic.Int64
	gate         chan struct{}
	entered      chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{valid: "a0", refreshOK: true, refresh: "r0"}
}

func (f *fakeAPI) expire() {
	f.mu.Lock()
	f.generated++
	f.valid = "a" + strconv.Itoa(f.generated) + "-unissued"
	f.mu.Unlock()
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == RefreshPath {
		f.refreshCalls.Add(1)
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		if f.gate != nil {
			<-f.gate
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.refreshOK || r.Header.Get(HeaderRefreshToken) != f.refresh || r.Header.Get(HeaderAccountID) != "u1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.generated++
		f.valid = "a" + strconv.Itoa(f.generated)
		w.Header().Set(HeaderAccessToken, f.valid)
		if f.rotate {
			f.refresh = "r" + strconv.Itoa(f.generated)
			w.Header().Set(HeaderRefreshToken, f.refresh)
		}
		return
	}

	f.mu.Lock()
	ok := r.Header.Get(HeaderAccessToken) == f.valid
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)
	_, _ = w.Write(body)
}

func newTestTransport(srv *httptest.Server, onLogout func()) *Transport {
	creds := &Credentials{}
	creds.Set("u1", "a0", "r0")
	return &Transport{
		Base:        srv.Client().Transport,
		Credentials: creds,
		RefreshURL:  srv.URL + RefreshPath,
		OnLogout:    onLogout,
	}
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return client.Do(req)
}

func TestTransportAttachesAccessToken(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	defer srv.Close()

	tr := newTestTransport(srv, nil)
	resp, err := get(t, &http.Client{Transport: tr}, srv.URL+"/tasks")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatal("valid token must not trigger refresh")
	}
}

func TestTransportConcurrent401sShareOneRefresh(t *testing.T) {
	api := newFakeAPI()
	api.expire()
	srv := httptest.NewServer(api)
	defer srv.Close()

	tr := newTestTransport(srv, nil)
	client := &http.Client{Transport: tr}

	const n = 20
	var wg sync.WaitGroup
	statuses := make(chan int, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, client, srv.URL+"/tasks")
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)
	close(errs)

	for err := range errs {
		t.Fatalf("request failed: %v", err)
	}
	for code := range statuses {
		if code != http.StatusOK {
			t.Fatalf("expected every replay to succeed, got %d", code)
		}
	}
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	if tr.Credentials.AccessToken() != "a2" {
		t.Fatalf("expected refreshed token cached, got %q", tr.Credentials.AccessToken())
	}
}

func TestTransportRefresh401LogsOutExactlyOnce(t *testing.T) {
	api := newFakeAPI()
	api.expire()
	api.refreshOK = false
	srv := httptest.NewServer(api)
	defer srv.Close()

	var logouts atomic.Int64
	tr := newTestTransport(srv, func() { logouts.Add(1) })
	client := &http.Client{Transport: tr}

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, client, srv.URL+"/tasks")
			if err == nil {
				resp.Body.Close()
				t.Errorf("expected error, got status %d", resp.StatusCode)
				return
			}
			if !errors.Is(err, ErrLoggedOut) {
				t.Errorf("expected ErrLoggedOut, got %v", err)
			}
		}()
	}
	wg.Wait()

	if got := logouts.Load(); got != 1 {
		t.Fatalf("expected one logout, got %d", got)
	}
	if !tr.Credentials.LoggedOut() || tr.Credentials.AccountID() != "" {
		t.Fatal("expected credentials cleared")
	}

	calls := api.refreshCalls.Load()
	if _, err := get(t, client, srv.URL+"/tasks"); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut while logged out, got %v", err)
	}
	if api.refreshCalls.Load() != calls {
		t.Fatal("logged-out transport must not refresh")
	}
	if logouts.Load() != 1 {
		t.Fatal("logout must not repeat")
	}

	// New credentials leave the logged-out state.
	api.mu.Lock()
	api.refreshOK = true
	current := api.valid
	api.mu.Unlock()
	tr.Credentials.Set("u1", current, "r0")
	resp, err := get(t, client, srv.URL+"/tasks")
	if err != nil {
		t.Fatalf("request after re-login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after re-login, got %d", resp.StatusCode)
	}
}

func TestTransportRefreshSurvivesCallerCancellation(t *testing.T) {
	api := newFakeAPI()
	api.expire()
	api.gate = make(chan struct{})
	api.entered = make(chan struct{}, 1)
	srv := httptest.NewServer(api)
	defer srv.Close()

	tr := newTestTransport(srv, nil)
	client := &http.Client{Transport: tr}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/tasks", nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}()

	select {
	case <-api.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled caller, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(api.gate)
	deadline := time.Now().Add(2 * time.Second)
	for tr.Credentials.AccessToken() != "a2" {
		if time.Now().After(deadline) {
			t.Fatalf("refresh did not complete after caller left, token %q", tr.Credentials.AccessToken())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTransportReplaysBody(t *testing.T) {
	api := newFakeAPI()
	api.expire()
	srv := httptest.NewServer(api)
	defer srv.Close()

	client := &http.Client{Transport: newTestTransport(srv, nil)}

	// io.NopCloser hides the reader type, so the request has no GetBody.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/tasks", io.NopCloser(strings.NewReader(`{"title":"x"}`)))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"title":"x"}` {
		t.Fatalf("expected replayed body, got %d %q", resp.StatusCode, body)
	}
}

func TestTransportReplayFailureReturnedAsIs(t *testing.T) {
	var refreshes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshPath {
			refreshes.Add(1)
			w.Header().Set(HeaderAccessToken, "fresh-"+strconv.FormatInt(refreshes.Load(), 10))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := newTestTransport(srv, func() { t.Error("replay failure must not log out") })
	resp, err := get(t, &http.Client{Transport: tr}, srv.URL+"/tasks")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected replayed 401 to be returned, got %d", resp.StatusCode)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", refreshes.Load())
	}
}

func TestTransportRefreshServerErrorKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshPath {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := newTestTransport(srv, func() { t.Error("server error must not log out") })
	_, err := get(t, &http.Client{Transport: tr}, srv.URL+"/tasks")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if tr.Credentials.LoggedOut() || tr.Credentials.AccountID() != "u1" {
		t.Fatal("session must survive a refresh outage")
	}
}

func TestTransportRotatedRefreshTokenStored(t *testing.T) {
	api := newFakeAPI()
	api.expire()
	api.rotate = true
	srv := httptest.NewServer(api)
	defer srv.Close()

	tr := newTestTransport(srv, nil)
	resp, err := get(t, &http.Client{Transport: tr}, srv.URL+"/tasks")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	_, _, refresh := tr.Credentials.Snapshot()
	if refresh != "r2" {
		t.Fatalf("expected rotated refresh token, got %q", refresh)
	}
}

func TestWithoutRefreshPassesThrough(t *testing.T) {
	api := newFakeAPI()
	api.expire()
	srv := httptest.NewServer(api)
	defer srv.Close()

	tr := newTestTransport(srv, nil)
	req, _ := http.NewRequestWithContext(WithoutRefresh(context.Background()), http.MethodGet, srv.URL+"/tasks", nil)
	resp, err := (&http.Client{Transport: tr}).Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized || api.refreshCalls.Load() != 0 {
		t.Fatalf("expected raw 401 and no refresh, got %d / %d", resp.StatusCode, api.refreshCalls.Load())
	}
}

func TestCredentialsSetAccessTokenIgnoresEmpty(t *testing.T) {
	var c Credentials
	c.Set("u1", "a1", "r1")
	c.SetAccessToken("")
	if c.AccessToken() != "a1" {
		t.Fatal("empty access token must not overwrite")
	}
	c.SetAccessToken("a2")
	if c.AccessToken() != "a2" {
		t.Fatal("expected access token update")
	}
	c.Clear()
	if id, a, r := c.Snapshot(); id != "" || a != "" || r != "" {
		t.Fatal("expected cleared credentials")
	}
}
