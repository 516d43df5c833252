// Package oauth implements the atproto OAuth login flow and the /auth
// endpoints.
//
// The authorization code flow uses PKCE (S256). Pending authorization
// requests are kept in the auth_states store keyed by the OAuth state, and
// token sets in the auth_sessions store keyed by DID. Both stores are
// expected to be wrapped in kv.Encrypted. All reads and writes of that
// state go through one mutex owned by the Client.
//
// After a successful callback the user is synced (profile, feed
// permissions) and receives a session JWT, both as an HttpOnly cookie and
// as a token query parameter on the redirect back to the frontend.
package oauth
