package core

import (
	"context"

	"github.com/stratumhq/stratum/pkg/component"
	"github.com/stratumhq/stratum/pkg/errutil"
	"github.com/stratumhq/stratum/pkg/serverclient"
	"github.com/stratumhq/stratum/pkg/telemetry"
)

// Target is a child scope of exactly one Project, the leaf of the
// Basis -> Project -> Target ownership chain described in spec.md
// section 3. It carries the connection attributes (address/port/user/
// key) original_source's host-inventory shape supplies so that the
// ssh-exec Command plugin has enough to dial a real host, plus the same
// owner/closer lifecycle shape as Basis and Project.
type Target struct {
	ctx     context.Context
	project *Project
	logger  *telemetry.Logger

	record *serverclient.TargetRecord

	// pendingResourceID carries WithTargetResourceID's argument until
	// LoadTarget resolves the backing record through the Persistence
	// Client; it is never read once record is set.
	pendingResourceID string

	closers  []func() error
	closed   bool
	closeErr error
}

// Name returns the Target's server-side record name.
func (t *Target) Name() string {
	if t.record == nil {
		return ""
	}
	return t.record.Name
}

// ResourceID returns the Target's server-side resource id.
func (t *Target) ResourceID() string {
	if t.record == nil {
		return ""
	}
	return t.record.ResourceID
}

// Project returns the owning Project.
func (t *Target) Project() *Project { return t.project }

// Address, Port, User, and KeyPath expose the connection attributes a
// transport (e.g. the ssh-exec Command plugin) dials against.
func (t *Target) Address() string { return t.record.Address }
func (t *Target) Port() int       { return t.record.Port }
func (t *Target) User() string    { return t.record.User }
func (t *Target) KeyPath() string { return t.record.KeyPath }

// Labels returns the Target's free-form label set.
func (t *Target) Labels() map[string]string { return t.record.Labels }

// BasisResourceID implements component.Specializer, delegating through
// the owning Project to the root Basis.
func (t *Target) BasisResourceID() string { return t.project.BasisResourceID() }

// ServiceEndpoint implements component.Specializer.
func (t *Target) ServiceEndpoint() string { return t.project.ServiceEndpoint() }

// Closer registers c to run once during Close.
func (t *Target) Closer(c func() error) {
	t.closers = append(t.closers, c)
}

// Close runs every registered Closer, aggregating failures. Close is
// idempotent.
func (t *Target) Close() error {
	if t.closed {
		return t.closeErr
	}

	t.logger.Tracef("closing target %s", t.ResourceID())

	var agg error
	for _, c := range t.closers {
		if err := c(); err != nil {
			t.logger.Warnf("error executing closer: %v", err)
			agg = errutil.Append(agg, err)
		}
	}

	t.closed = true
	t.closeErr = agg
	return agg
}

// Save upserts the Target's record through the owning Project's Basis's
// Persistence Client.
func (t *Target) Save(ctx context.Context) error {
	t.logger.Debugf("saving target %s", t.ResourceID())
	rec, err := t.project.basis.client.UpsertTarget(ctx, t.record)
	if err != nil {
		t.logger.Tracef("failed to save target %s: %v", t.ResourceID(), err)
		return err
	}
	t.record = rec
	return nil
}

var _ component.Specializer = (*Target)(nil)
