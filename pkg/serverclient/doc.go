// Package serverclient implements the Persistence Client (component D):
// the remote handle the Basis/Project lifecycle core round-trips its
// records through. Client is the consumed interface; SQLiteClient is
// Stratum's concrete, embeddable implementation, adapted from the
// teacher's pkg/stores SQLite store.
package serverclient
