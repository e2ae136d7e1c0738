// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package orchestrator drives a single version transition through its
// phases: preflight, backup, advisory gating, apply, health gate and
// post-transition validation. Mutual exclusion over the cluster's current
// version comes from this strict phase ordering within one run; concurrent
// orchestrator invocations against the same cluster must be excluded by a
// deployment-level lease.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/version/v2"

	"github.com/juju/ratchet/core/transition"
	"github.com/juju/ratchet/internal/advisory"
	"github.com/juju/ratchet/internal/backups"
	"github.com/juju/ratchet/internal/catalog"
	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/executor"
	"github.com/juju/ratchet/internal/healthgate"
	"github.com/juju/ratchet/internal/postcheck"
	"github.com/juju/ratchet/internal/preflight"
	"github.com/juju/ratchet/internal/rollback"
)

var logger = loggo.GetLogger("ratchet.orchestrator")

// ErrConfirmationRequired is returned when a gate needs an explicit
// operator decision and no way to obtain one is configured.
const ErrConfirmationRequired = errors.ConstError("operator confirmation required")

const defaultHealthTimeout = 10 * time.Minute

// Config carries the operator-facing knobs. Headless and interactive
// drivers differ only in these two fields.
type Config struct {
	// AutoConfirm answers yes to every confirmation gate.
	AutoConfirm bool
	// ConfirmationCallback, when set and AutoConfirm is false, is asked
	// to approve each gate.
	ConfirmationCallback func(reason string) (bool, error)
	// HealthTimeout bounds every readiness wait.
	HealthTimeout time.Duration
}

// Orchestrator wires the transition phases together.
type Orchestrator struct {
	graph      *catalog.Graph
	client     *cluster.Client
	backups    *backups.Manager
	advisories *advisory.Source
	executor   *executor.Executor
	gate       *healthgate.Gate
	pre        *preflight.Validator
	post       *postcheck.Validator
	rollback   *rollback.Controller
	clock      clock.Clock
	config     Config
}

// New assembles an Orchestrator over the given cluster client, storing
// backups under backupRoot.
func New(client *cluster.Client, backupRoot string, clk clock.Clock, config Config) (*Orchestrator, error) {
	graph, err := catalog.Load()
	if err != nil {
		return nil, errors.Trace(err)
	}
	advisories, err := advisory.Load(graph.Versions())
	if err != nil {
		return nil, errors.Trace(err)
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = defaultHealthTimeout
	}
	manager := backups.NewManager(backupRoot, client, clk)
	gate := healthgate.New(client, clk)
	post := postcheck.NewValidator(client)
	return &Orchestrator{
		graph:      graph,
		client:     client,
		backups:    manager,
		advisories: advisories,
		executor:   executor.New(client, clk),
		gate:       gate,
		pre:        preflight.NewValidator(client),
		post:       post,
		rollback:   rollback.NewController(graph, client, manager, gate, post, clk),
		clock:      clk,
		config:     config,
	}, nil
}

// Graph exposes the release catalog.
func (o *Orchestrator) Graph() *catalog.Graph {
	return o.graph
}

// Backups exposes the backup manager for housekeeping commands.
func (o *Orchestrator) Backups() *backups.Manager {
	return o.backups
}

// CurrentVersion reads the release the cluster currently reports.
func (o *Orchestrator) CurrentVersion(ctx context.Context) (version.Number, error) {
	v, err := o.client.ReportedVersion(ctx)
	if err != nil {
		return version.Zero, errors.Annotate(err, "reading current release")
	}
	return v, nil
}

// Install deploys the first catalogued release onto an empty cluster.
func (o *Orchestrator) Install(ctx context.Context) (*transition.Record, error) {
	node := o.graph.First()
	if _, err := o.client.ReportedVersion(ctx); err == nil {
		return nil, errors.AlreadyExistsf("installation")
	} else if !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}
	rec := transition.New(version.Zero, node.Version, o.clock.Now().UTC())
	return rec, errors.Trace(o.run(ctx, rec, node, false))
}

// Upgrade moves the cluster from its reported release to the given target,
// which must be the immediate successor.
func (o *Orchestrator) Upgrade(ctx context.Context, to version.Number) (*transition.Record, error) {
	from, err := o.client.ReportedVersion(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "reading current release")
	}
	if err := o.graph.IsValidTransition(from, to); err != nil {
		return nil, errors.Trace(err)
	}
	node, err := o.graph.Lookup(to)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rec := transition.New(from, to, o.clock.Now().UTC())
	return rec, errors.Trace(o.run(ctx, rec, node, true))
}

// run drives the phase sequence for one transition. Cancellation is
// honoured only at phase boundaries; once the executor starts, the
// transition runs to completion or to a fatal error.
func (o *Orchestrator) run(ctx context.Context, rec *transition.Record, node *catalog.ReleaseNode, checkPreflight bool) error {
	if checkPreflight {
		result, err := o.pre.Check(ctx, rec.FromVersion, node)
		if err != nil {
			return o.fail(rec, err)
		}
		rec.AddReports(result.Reports...)
		switch result.Outcome {
		case preflight.Fail:
			return o.fail(rec, errors.Errorf("preflight failed for %s -> %s", rec.FromVersion, rec.ToVersion))
		case preflight.NeedsConfirmation:
			if err := o.confirm("unconverged workloads present; proceed with the upgrade anyway"); err != nil {
				return o.fail(rec, err)
			}
		}
	}
	if err := rec.Advance(transition.Preflighted); err != nil {
		return errors.Trace(err)
	}
	if err := o.checkBoundary(ctx, rec); err != nil {
		return errors.Trace(err)
	}

	snap, err := o.backups.Capture(ctx, rec.FromVersion, rec.ToVersion)
	if err != nil {
		return o.fail(rec, err)
	}
	rec.BackupRef = snap.Ref()
	if err := rec.Advance(transition.BackupCaptured); err != nil {
		return errors.Trace(err)
	}
	if err := o.checkBoundary(ctx, rec); err != nil {
		return errors.Trace(err)
	}

	if err := o.acknowledgeAdvisories(rec); err != nil {
		return o.fail(rec, err)
	}
	if err := rec.Advance(transition.AdvisoryAcknowledged); err != nil {
		return errors.Trace(err)
	}
	if err := o.checkBoundary(ctx, rec); err != nil {
		return errors.Trace(err)
	}

	if err := rec.Advance(transition.Applying); err != nil {
		return errors.Trace(err)
	}
	if err := o.executor.Run(ctx, node); err != nil {
		return o.fail(rec, err)
	}
	if err := rec.Advance(transition.HealthPending); err != nil {
		return errors.Trace(err)
	}

	results, err := o.gate.Wait(ctx, node, o.config.HealthTimeout)
	if err != nil {
		for _, r := range results {
			logger.Errorf("component %s: %s (%d/%d ready)", r.Component, r.Status, r.Ready, r.Desired)
		}
		return o.fail(rec, err)
	}
	if err := rec.Advance(transition.Validating); err != nil {
		return errors.Trace(err)
	}

	result, err := o.post.Run(ctx, rec.ToVersion)
	if err != nil {
		return o.fail(rec, err)
	}
	rec.AddReports(result.Reports...)
	if result.Failed() {
		return o.fail(rec, errors.Annotatef(postcheck.ErrValidation, "%s -> %s", rec.FromVersion, rec.ToVersion))
	}
	if err := rec.Advance(transition.Success); err != nil {
		return errors.Trace(err)
	}
	logger.Infof("transition %s -> %s succeeded", rec.FromVersion, rec.ToVersion)
	return nil
}

// Validate runs the full post-transition check set against whatever the
// cluster currently reports.
func (o *Orchestrator) Validate(ctx context.Context) (*postcheck.Result, error) {
	live, err := o.client.ReportedVersion(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "reading current release")
	}
	return o.post.Run(ctx, live)
}

// Rollback restores the most recent snapshot of the given version.
func (o *Orchestrator) Rollback(ctx context.Context, to version.Number) (*transition.Record, error) {
	rec, _, err := o.rollback.ReverseTo(ctx, to, o.config.HealthTimeout)
	if err != nil {
		return rec, errors.Trace(err)
	}
	return rec, nil
}

// fail moves the record to Failed and decorates the error with the exact
// rollback command for the prior release.
func (o *Orchestrator) fail(rec *transition.Record, err error) error {
	if aerr := rec.Advance(transition.Failed); aerr != nil {
		logger.Errorf("recording failure: %v", aerr)
	}
	if rec.FromVersion == version.Zero {
		return errors.Trace(err)
	}
	return errors.Annotatef(err, "transition %s -> %s failed; to restore the previous release run %q",
		rec.FromVersion, rec.ToVersion, fmt.Sprintf("ratchet rollback %s", rec.FromVersion))
}

// checkBoundary honours cancellation between phases.
func (o *Orchestrator) checkBoundary(ctx context.Context, rec *transition.Record) error {
	if err := ctx.Err(); err != nil {
		return o.fail(rec, errors.Annotate(err, "cancelled at phase boundary"))
	}
	return nil
}

// acknowledgeAdvisories surfaces the breaking changes for the transition.
// Blocking impact needs explicit confirmation; the rest are logged as the
// passive acknowledgment.
func (o *Orchestrator) acknowledgeAdvisories(rec *transition.Record) error {
	if rec.FromVersion == version.Zero {
		// Fresh install; there is no transition to advise on.
		return nil
	}
	records := o.advisories.Lookup(rec.FromVersion, rec.ToVersion)
	blocking := false
	for _, a := range records {
		logger.Infof("breaking change [%s]: %s", a.Impact, a.Title)
		if a.Remediation != "" {
			logger.Infof("  remediation: %s", a.Remediation)
		}
		if a.Impact.Blocking() {
			blocking = true
		}
	}
	if !blocking {
		return nil
	}
	return errors.Trace(o.confirm(fmt.Sprintf(
		"transition %s -> %s carries critical breaking changes; proceed", rec.FromVersion, rec.ToVersion)))
}

func (o *Orchestrator) confirm(reason string) error {
	if o.config.AutoConfirm {
		logger.Infof("auto-confirmed: %s", reason)
		return nil
	}
	if o.config.ConfirmationCallback == nil {
		return errors.Annotatef(ErrConfirmationRequired, "%s", reason)
	}
	ok, err := o.config.ConfirmationCallback(reason)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		return errors.Annotatef(ErrConfirmationRequired, "declined: %s", reason)
	}
	return nil
}
