// Package httpapi serves the account and session endpoints over net/http.
//
// Tokens travel in headers, never in bodies: login and signup answer with
// x-access-token and x-refresh-token, refresh reads x-refresh-token and _id.
// Response bodies carry the public account view or {"error": "..."}.
//
//	POST   /users                           signup
//	POST   /users/login                     login
//	GET    /users/me/access-token           refresh
//	DELETE /users/session                   logout (idempotent)
//	DELETE /users/sessions                  logout everywhere
//	GET    /users/me                        current account
//	GET    /users/me/sessions               active sessions
//	PUT    /users/me/password               change password
//	DELETE /users/me                        delete account
//	GET    /users/{id}/username             username lookup
//	GET    /users/check-username/{username} availability
//	GET    /users/check-email/{email}       availability
//	POST   /send-email                      request password reset
//	POST   /reset-password                  confirm password reset
//
// Credential failures never reveal whether the username or the password was
// wrong.
package httpapi
