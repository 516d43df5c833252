// Package modlog is the append-only moderation log.
//
// Store.Record writes one row per moderation action and always returns its
// error: callers decide how to surface a failed audit write. Store.Query
// filters by feed, action, performer, target and a closed date range.
//
// Reads go through a Viewer, which projects entries into a per-role DTO:
//
//	admin -> []AdminView  every action, performer included
//	mod   -> []ModView    bans, unbans, post deletes and restores; no performer
//	user  -> ErrForbidden before any query runs
package modlog
