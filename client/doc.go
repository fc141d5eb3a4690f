// Package client is a Go client for the account API served by package
// httpapi.
//
// [Transport] is the refresh coordinator. It attaches the cached access
// token to every request; on a 401 it runs at most one refresh for all
// concurrent callers and replays their requests with the new token. A
// refresh rejected by the server clears the credentials and fires the
// logout callback once, after which protected requests fail with
// [ErrLoggedOut] until new credentials are stored.
//
// [Client] wraps the endpoints and owns a Transport:
//
//	c, _ := client.New("https://api.example.com", client.WithOnLogout(showLogin))
//	if _, err := c.Login(ctx, "alice", pw); err != nil { ... }
//	req, _ := http.NewRequest(http.MethodGet, "/lists", nil)
//	resp, err := c.Do(req)
package client
