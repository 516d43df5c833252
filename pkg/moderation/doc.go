// Package moderation holds the moderation service registry and the report
// dispatcher.
//
// The registry is a cache-aside view of the moderation_services table. Reads
// are served from an expiring in-memory LRU; every write made through
// Registry.Save invalidates it. A service with an empty AdminDID is
// available to every feed, any other service only to feeds owned by that
// DID.
//
// The dispatcher forwards reports to their destination services. Each
// report is processed independently and always produces exactly one
// moderation log append, whatever happened at the destinations:
//
//	dispatcher := moderation.NewDispatcher(registry, engine, logStore, cfg, logger, metrics)
//	dispatcher.Register(moderation.NewOzoneDestination(host, token, timeout))
//	dispatcher.Register(moderation.NoopDestination("blacksky"))
//	summaries := dispatcher.SubmitReports(ctx, actingDID, reports)
package moderation
