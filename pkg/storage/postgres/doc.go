// Package postgres opens the PostgreSQL pool, applies the schema, and opens
// the optional Redis client used by the KV backend and health checks.
package postgres
