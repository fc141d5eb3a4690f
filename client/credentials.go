package client

import "sync"

// Credentials caches the account id and token pair of one signed-in client.
// It is safe for concurrent use.
type Credentials struct {
	mu        sync.RWMutex
	accountID string
	access    string
	refresh   string
	loggedOut bool
}

// Set stores a full session, as returned by login or signup, and leaves the
// logged-out state. Empty values do not overwrite stored ones.
func (c *Credentials) Set(accountID, accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if accountID != "" {
		c.accountID = accountID
	}
	if accessToken != "" {
		c.access = accessToken
	}
	if refreshToken != "" {
		c.refresh = refreshToken
	}
	c.loggedOut = false
}

// SetAccessToken replaces the access token. An empty token is ignored so a
// malformed refresh response cannot wipe a usable one.
func (c *Credentials) SetAccessToken(accessToken string) {
	if accessToken == "" {
		return
	}
	c.mu.Lock()
	c.access = accessToken
	c.mu.Unlock()
}

// Clear drops every stored value.
func (c *Credentials) Clear() {
	c.mu.Lock()
	c.accountID, c.access, c.refresh = "", "", ""
	c.mu.Unlock()
}

// AccessToken returns the cached access token.
func (c *Credentials) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// AccountID returns the cached account id.
func (c *Credentials) AccountID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountID
}

// Snapshot returns all three values read under one lock.
func (c *Credentials) Snapshot() (accountID, accessToken, refreshToken string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountID, c.access, c.refresh
}

// LoggedOut reports whether a failed refresh or an explicit logout has
// cleared the session and no new one has been stored since.
func (c *Credentials) LoggedOut() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedOut
}

// applyRefresh stores the refresh outcome only if the session it was
// obtained for is still the current one.
func (c *Credentials) applyRefresh(usedRefresh, accessToken, rotatedRefresh string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedOut || c.refresh != usedRefresh {
		return false
	}
	if accessToken != "" {
		c.access = accessToken
	}
	if rotatedRefresh != "" {
		c.refresh = rotatedRefresh
	}
	return true
}

// markLoggedOut clears the session and reports whether this call performed
// the transition.
func (c *Credentials) markLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedOut {
		return false
	}
	c.accountID, c.access, c.refresh = "", "", ""
	c.loggedOut = true
	return true
}
