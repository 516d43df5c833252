// Package profiles stores user profiles and runs the login-time sync that
// merges AppView feed ownership with local feed permissions.
package profiles
