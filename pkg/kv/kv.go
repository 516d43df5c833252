// Package kv provides a small key-value store used for OAuth state and
// session material.
//
// Two backends exist: PostgresStore over the auth_states/auth_sessions
// tables and RedisStore over go-redis. Either can be wrapped with
// Encrypted so values are stored as AES-256-CBC ciphertext.
//
//	backend, _ := kv.NewPostgresStore(db, kv.TableAuthStates, 10*time.Minute)
//	states, _ := kv.NewEncrypted(backend, key)
//	err := states.Set(ctx, state, payload)
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent or expired
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
}
