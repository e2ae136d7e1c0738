// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rollback reverses a failed transition by restoring the backup
// snapshot captured immediately before it. A rollback is itself a
// transition: it captures its own pre-mutation backup before touching
// anything, and it re-runs the health gate and the reduced post-transition
// checks once the restore lands. Rollback never deletes persisted
// application data; it reapplies orchestrator-managed configuration and
// workload definitions only.
package rollback

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/version/v2"

	"github.com/juju/ratchet/core/transition"
	"github.com/juju/ratchet/internal/backups"
	"github.com/juju/ratchet/internal/catalog"
	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/healthgate"
	"github.com/juju/ratchet/internal/postcheck"
)

var logger = loggo.GetLogger("ratchet.rollback")

// Controller reverses transitions.
type Controller struct {
	graph   *catalog.Graph
	client  *cluster.Client
	backups *backups.Manager
	gate    *healthgate.Gate
	post    *postcheck.Validator
	clock   clock.Clock
}

// NewController returns a rollback Controller.
func NewController(
	graph *catalog.Graph,
	client *cluster.Client,
	manager *backups.Manager,
	gate *healthgate.Gate,
	post *postcheck.Validator,
	clk clock.Clock,
) *Controller {
	return &Controller{
		graph:   graph,
		client:  client,
		backups: manager,
		gate:    gate,
		post:    post,
		clock:   clk,
	}
}

// Reverse restores the snapshot guarding the given failed transition. On
// success the record moves to RolledBack and the reduced validation result
// for the restored version is returned.
func (c *Controller) Reverse(ctx context.Context, rec *transition.Record, healthTimeout time.Duration) (*postcheck.Result, error) {
	if rec.Status != transition.Failed {
		return nil, errors.NotValidf("rolling back a %q transition", rec.Status)
	}
	snap, err := c.backups.Find(rec.BackupRef)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !snap.Completed {
		return nil, errors.NotValidf("rolling back to incomplete snapshot %q", rec.BackupRef)
	}
	node, err := c.graph.Lookup(rec.FromVersion)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// The rollback's own pre-mutation backup. The cluster may be in a
	// partially applied state; whatever it reports is what gets labelled.
	current, err := c.client.ReportedVersion(ctx)
	if err != nil {
		current = rec.ToVersion
	}
	if _, err := c.backups.Capture(ctx, current, rec.FromVersion); err != nil {
		return nil, errors.Trace(err)
	}

	logger.Infof("restoring snapshot %s to return to %s", snap.Ref(), rec.FromVersion)
	if err := c.backups.Restore(ctx, snap); err != nil {
		return nil, errors.Trace(err)
	}
	if err := c.client.SetReportedVersion(ctx, rec.FromVersion); err != nil {
		return nil, errors.Trace(err)
	}

	if _, err := c.gate.Wait(ctx, node, healthTimeout); err != nil {
		return nil, errors.Annotatef(err, "waiting for %s after rollback", rec.FromVersion)
	}
	result, err := c.post.RunReduced(ctx, rec.FromVersion)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if result.Failed() {
		return result, errors.Annotatef(postcheck.ErrValidation, "after rolling back to %s", rec.FromVersion)
	}
	if err := rec.Advance(transition.RolledBack); err != nil {
		return nil, errors.Trace(err)
	}
	rec.AddReports(result.Reports...)
	logger.Infof("rolled back to %s", rec.FromVersion)
	return result, nil
}

// ReverseTo reconstructs a failed-transition record from the most recent
// snapshot capturing the given version, and reverses it. This is the path
// behind `ratchet rollback <version>`.
func (c *Controller) ReverseTo(ctx context.Context, v version.Number, healthTimeout time.Duration) (*transition.Record, *postcheck.Result, error) {
	snap, err := c.backups.Latest(v)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	rec := &transition.Record{
		FromVersion: snap.Source,
		ToVersion:   snap.Target,
		StartedAt:   c.clock.Now().UTC(),
		BackupRef:   snap.Ref(),
		Status:      transition.Failed,
	}
	result, err := c.Reverse(ctx, rec, healthTimeout)
	if err != nil {
		return rec, result, errors.Trace(err)
	}
	return rec, result, nil
}
