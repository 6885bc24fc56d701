// Package database opens GORM connections for the sql resolver backend and
// the sql configuration store.
//
// Connections are retried with a context-aware backoff, pooled per Config and
// logged through the service logger. The driver is chosen by Config.Driver;
// sqlite is built in:
//
//	db, err := database.Open(ctx, database.Config{Driver: "sqlite", DSN: "file:users.db"}, log)
//
// Component wraps a connection for the service lifecycle.
package database
