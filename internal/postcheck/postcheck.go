// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package postcheck asserts, after a transition has applied and gated on
// health, that the cluster actually runs the target release: the reported
// version matches, no workload is failed or pending, and the release's own
// invariants hold. Checks are independent of each other; a critical failure
// marks the transition Failed and yields a rollback recommendation, never a
// rollback.
package postcheck

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/version/v2"

	"github.com/juju/ratchet/core/validation"
	"github.com/juju/ratchet/internal/cluster"
)

var logger = loggo.GetLogger("ratchet.postcheck")

// ErrValidation is returned when a critical post-transition check fails.
const ErrValidation = errors.ConstError("post-transition validation failed")

// Result aggregates the check reports for one validation run.
type Result struct {
	Reports []validation.Report
}

// Failed reports whether any critical check failed.
func (r *Result) Failed() bool {
	return validation.AnyCriticalFailure(r.Reports)
}

// Validator runs post-transition checks.
type Validator struct {
	client *cluster.Client
}

// NewValidator returns a post-transition Validator.
func NewValidator(client *cluster.Client) *Validator {
	return &Validator{client: client}
}

// Run performs the full check set for the target version.
func (v *Validator) Run(ctx context.Context, target version.Number) (*Result, error) {
	result, err := v.runCommon(ctx, target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	invariants, err := v.runInvariants(ctx, target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result.Reports = append(result.Reports, invariants...)
	v.logOutcome(target, result)
	return result, nil
}

// RunReduced performs only the version and workload-health checks. Used
// after a rollback, when the release invariants of the restored version are
// not what is being decided.
func (v *Validator) RunReduced(ctx context.Context, target version.Number) (*Result, error) {
	result, err := v.runCommon(ctx, target)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v.logOutcome(target, result)
	return result, nil
}

func (v *Validator) runCommon(ctx context.Context, target version.Number) (*Result, error) {
	result := &Result{}

	live, err := v.client.ReportedVersion(ctx)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}
	versionOK := err == nil && live == target
	result.Reports = append(result.Reports, validation.Report{
		Check:    "reported version equals target",
		Passed:   versionOK,
		Detail:   fmt.Sprintf("reported %q, target %q", live, target),
		Severity: validation.Critical,
	})

	workloads, err := v.client.WorkloadSummary(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stuck := 0
	for _, w := range workloads {
		if !w.Healthy() {
			stuck++
			result.Reports = append(result.Reports, validation.Report{
				Check:    "workload healthy: " + w.Name,
				Passed:   false,
				Detail:   fmt.Sprintf("%s %s: %d/%d ready", w.Kind, w.Name, w.Ready, w.Desired),
				Severity: validation.Critical,
			})
		}
	}
	if stuck == 0 {
		result.Reports = append(result.Reports, validation.Report{
			Check:    "no workload failed or pending",
			Passed:   true,
			Detail:   fmt.Sprintf("%d workloads healthy", len(workloads)),
			Severity: validation.Info,
		})
	}
	return result, nil
}

func (v *Validator) logOutcome(target version.Number, result *Result) {
	if result.Failed() {
		logger.Errorf("post-transition validation for %s failed", target)
		return
	}
	logger.Infof("post-transition validation for %s passed", target)
}
