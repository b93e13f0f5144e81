// Package database provides the PostgreSQL connection pool and schema used
// for trade and ticker storage.
package database
