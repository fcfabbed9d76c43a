// Package stores provides persistence implementations for the code pool.
// The primary backend is DynamoDB with conditional writes; a SQLite store
// with WAL mode and embedded migrations serves single-node deployments,
// and an in-memory store backs tests.
package stores
