// Package permissions owns per-feed roles.
//
// The Engine answers "may this DID take this action on this feed" from the
// static table in CanPerform:
//
//	mod_promote, mod_demote, user_ban, user_unban   admin
//	post_delete, post_restore                       mod, admin
//	anything else                                   nobody
//
// Role reads fail closed to auth.RoleUser. On login, ReconcilePermissions
// upserts an admin row for every feed the user publishes; rows for feeds
// that disappear from the identity provider's answer are never demoted.
// SetFeedRole is the promote/demote path and writes a moderation log
// entry for every change.
package permissions
