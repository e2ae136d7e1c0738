// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package executor applies a release to the cluster: first the release's
// ordered pre-apply migration steps, each verified independently, then the
// resolved declarative resource set via a reconciling, field-merge apply.
// The whole operation is idempotent; reapplying an already-applied release
// changes nothing.
package executor

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/juju/ratchet/internal/catalog"
	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/overlay"
	"github.com/juju/ratchet/internal/resources"
)

var logger = loggo.GetLogger("ratchet.executor")

// ErrApply is returned for any fatal apply failure. The cluster is left in
// its last-applied state; nothing here retries or rolls back.
const ErrApply = errors.ConstError("applying release resources")

// Executor applies releases.
type Executor struct {
	client *cluster.Client
	clock  clock.Clock

	// Timing for the delete-recreate escape hatch: how often to poll for
	// the deleted object to be gone, and for how long.
	recreatePollDelay   time.Duration
	recreatePollTimeout time.Duration
}

// New returns an Executor.
func New(client *cluster.Client, clk clock.Clock) *Executor {
	return &Executor{
		client:              client,
		clock:               clk,
		recreatePollDelay:   2 * time.Second,
		recreatePollTimeout: 2 * time.Minute,
	}
}

type stepContext struct {
	client *cluster.Client
	clock  clock.Clock
}

func (s stepContext) Client() *cluster.Client { return s.client }
func (s stepContext) Clock() clock.Clock      { return s.clock }

// Run migrates and applies the given release. Once Run starts it proceeds
// to completion or to a fatal error; cancellation is honoured only before
// the first mutation.
func (e *Executor) Run(ctx context.Context, node *catalog.ReleaseNode) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	if err := e.runMigrations(ctx, node); err != nil {
		return errors.Trace(err)
	}
	if err := e.applyResources(ctx, node); err != nil {
		return errors.Trace(err)
	}
	if err := e.client.SetReportedVersion(ctx, node.Version); err != nil {
		return errors.WithType(errors.Annotate(err, "updating version marker"), ErrApply)
	}
	logger.Infof("release %s applied", node.Version)
	return nil
}

// runMigrations executes the release's pre-apply steps in catalog order.
// Every step must run and verify before the next starts; migration state
// must be in place before any workload of the new release exists.
func (e *Executor) runMigrations(ctx context.Context, node *catalog.ReleaseNode) error {
	sc := stepContext{client: e.client, clock: e.clock}
	for _, description := range node.Migrations {
		step, err := findStep(node.Version, description)
		if err != nil {
			return errors.Trace(err)
		}
		logger.Infof("running migration step for %s: %s", node.Version, description)
		if err := step.Run(ctx, sc); err != nil {
			return errors.WithType(errors.Annotatef(err, "migration step %q", description), ErrApply)
		}
		if err := step.Verify(ctx, sc); err != nil {
			return errors.WithType(errors.Annotatef(err, "verifying migration step %q", description), ErrApply)
		}
	}
	return nil
}

// applyResources applies the release's resolved resource set in order.
func (e *Executor) applyResources(ctx context.Context, node *catalog.ReleaseNode) error {
	docs, err := overlay.Resolve(node.Manifest)
	if err != nil {
		return errors.Trace(err)
	}
	raw := make([][]byte, len(docs))
	for i, d := range docs {
		raw[i] = d.Data
	}
	resList, err := resources.FromDocs(e.client.API(), e.client.Namespace(), raw)
	if err != nil {
		return errors.Trace(err)
	}
	for _, res := range resList {
		err := res.Apply(ctx)
		if errors.Is(err, resources.ErrImmutable) {
			sset, ok := res.(*resources.StatefulSet)
			if !ok {
				return errors.WithType(errors.Trace(err), ErrApply)
			}
			if err := e.recreate(ctx, sset); err != nil {
				return errors.WithType(errors.Trace(err), ErrApply)
			}
			continue
		}
		if err != nil {
			return errors.WithType(errors.Trace(err), ErrApply)
		}
	}
	return nil
}

// recreate is the escape hatch for immutable identity-selector conflicts on
// an identity-bearing workload. The StatefulSet object alone is deleted,
// orphaning its pods and leaving every PersistentVolumeClaim in place; once
// the object is observed gone the desired state is applied again. This runs
// exactly once per resource; a second failure is fatal.
func (e *Executor) recreate(ctx context.Context, sset *resources.StatefulSet) error {
	logger.Warningf("statefulset %q has an immutable selector conflict, performing scoped delete-recreate", sset.Name)
	if err := sset.DeleteOrphan(ctx); err != nil {
		return errors.Trace(err)
	}
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			probe := sset.Clone()
			err := probe.Get(ctx)
			if errors.Is(err, errors.NotFound) {
				return nil
			}
			if err != nil {
				return errors.Trace(err)
			}
			return errors.Errorf("statefulset %q still present", sset.Name)
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("waiting for statefulset %q deletion, attempt %d: %v", sset.Name, attempt, err)
		},
		Attempts:    -1,
		Delay:       e.recreatePollDelay,
		MaxDuration: e.recreatePollTimeout,
		Clock:       e.clock,
	})
	if err != nil {
		return errors.Annotatef(err, "waiting for statefulset %q to be deleted", sset.Name)
	}
	return errors.Annotatef(sset.Apply(ctx), "recreating statefulset %q", sset.Name)
}
