// Package serverclient defines the Persistence Client the core consumes:
// a thin remote handle exposing Upsert/Find/Get for Basis/Project/Target
// records. The transport is opaque to the core — Stratum's concrete
// implementation happens to be SQLite-backed, adapted from the teacher's
// pkg/stores store, but pkg/core depends only on the Client interface.
package serverclient

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no record exists under the given
// resource id. Find never returns it: Find reports absence through its
// bool result instead.
var ErrNotFound = errors.New("serverclient: record not found")

// Client is the consumed persistence contract: Upsert/Get/Find over
// Basis, Project, and Target records. Every method takes the caller's
// context first. Find returns (record, found); Get and Upsert return the
// canonical record or an error. Save operations are idempotent with
// respect to unchanged records.
type Client interface {
	UpsertBasis(ctx context.Context, rec *BasisRecord) (*BasisRecord, error)
	GetBasis(ctx context.Context, resourceID string) (*BasisRecord, error)
	FindBasis(ctx context.Context, resourceID string) (*BasisRecord, bool, error)

	UpsertProject(ctx context.Context, rec *ProjectRecord) (*ProjectRecord, error)
	GetProject(ctx context.Context, resourceID string) (*ProjectRecord, error)
	FindProject(ctx context.Context, resourceID string) (*ProjectRecord, bool, error)

	UpsertTarget(ctx context.Context, rec *TargetRecord) (*TargetRecord, error)
	GetTarget(ctx context.Context, resourceID string) (*TargetRecord, error)
	FindTarget(ctx context.Context, resourceID string) (*TargetRecord, bool, error)

	// Endpoint identifies the server this client talks to. The core
	// stamps it onto specializable plugin instances as
	// vagrant_service_endpoint.
	Endpoint() string

	// Close releases the client's underlying transport.
	Close() error
}
