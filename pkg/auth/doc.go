// Package auth holds the identity types shared across the API: feed roles,
// moderation actions, the per-request AuthContext, and session tokens.
//
// # Roles
//
// Roles are scoped to a single feed and ordered by Priority:
//
//	admin (3) > mod (2) > user (1)
//
// A user with no recorded role on a feed is treated as RoleUser.
//
// # Sessions
//
// After OAuth login the API issues an HS256 JWT whose subject is the user's
// DID. Clients send it as a Bearer token:
//
//	sessions, _ := auth.NewSessionManager(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
//	token, _ := sessions.Issue(did, handle)
//	claims, err := sessions.Verify(token)
//
// # Related Packages
//
//   - pkg/middleware: verifies Bearer tokens and builds the AuthContext
//   - pkg/permissions: role lookups and the action table
package auth
