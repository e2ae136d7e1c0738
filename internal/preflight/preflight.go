// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package preflight runs the read-only checks that must pass before a
// transition may mutate anything: the cluster reports exactly the expected
// predecessor version, every managed workload has converged, and the
// Kubernetes server is new enough for the target release.
package preflight

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/version/v2"

	"github.com/juju/ratchet/core/validation"
	"github.com/juju/ratchet/internal/catalog"
	"github.com/juju/ratchet/internal/cluster"
)

var logger = loggo.GetLogger("ratchet.preflight")

// Outcome is the overall preflight verdict.
type Outcome string

const (
	// Pass means the transition may proceed.
	Pass Outcome = "pass"
	// Fail means the transition must not proceed.
	Fail Outcome = "fail"
	// NeedsConfirmation means unhealthy workloads exist; the operator may
	// explicitly choose to proceed anyway.
	NeedsConfirmation Outcome = "needs-confirmation"
)

// Result carries the verdict and the individual check reports.
type Result struct {
	Outcome Outcome
	Reports []validation.Report
}

// Validator performs preflight checks. It never mutates the cluster.
type Validator struct {
	client *cluster.Client
}

// NewValidator returns a preflight Validator.
func NewValidator(client *cluster.Client) *Validator {
	return &Validator{client: client}
}

// Check validates the live system against the expected predecessor version
// and the target release's requirements.
func (v *Validator) Check(ctx context.Context, expected version.Number, target *catalog.ReleaseNode) (*Result, error) {
	result := &Result{Outcome: Pass}

	live, err := v.client.ReportedVersion(ctx)
	if err != nil && !errors.Is(err, errors.NotFound) {
		return nil, errors.Trace(err)
	}
	versionOK := err == nil && live == expected
	detail := fmt.Sprintf("reported %q, expected %q", live, expected)
	if errors.Is(err, errors.NotFound) {
		detail = fmt.Sprintf("no version marker, expected %q", expected)
	}
	result.Reports = append(result.Reports, validation.Report{
		Check:    "reported version matches expected predecessor",
		Passed:   versionOK,
		Detail:   detail,
		Severity: validation.Critical,
	})
	if !versionOK {
		result.Outcome = Fail
	}

	workloads, err := v.client.WorkloadSummary(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	unhealthy := 0
	for _, w := range workloads {
		if !w.Healthy() {
			unhealthy++
			result.Reports = append(result.Reports, validation.Report{
				Check:    "workload converged: " + w.Name,
				Passed:   false,
				Detail:   fmt.Sprintf("%s %s: %d/%d ready", w.Kind, w.Name, w.Ready, w.Desired),
				Severity: validation.Warning,
			})
		}
	}
	if unhealthy == 0 {
		result.Reports = append(result.Reports, validation.Report{
			Check:    "all workloads converged",
			Passed:   true,
			Detail:   fmt.Sprintf("%d workloads healthy and synced", len(workloads)),
			Severity: validation.Info,
		})
	} else if result.Outcome == Pass {
		result.Outcome = NeedsConfirmation
	}

	if target.MinKubeVersion != version.Zero {
		server, err := v.client.ServerVersion()
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch {
		case server == version.Zero:
			result.Reports = append(result.Reports, validation.Report{
				Check:    "kubernetes server version",
				Passed:   true,
				Detail:   "server version unknown, cannot verify minimum " + target.MinKubeVersion.String(),
				Severity: validation.Warning,
			})
		case server.Compare(target.MinKubeVersion) < 0:
			result.Reports = append(result.Reports, validation.Report{
				Check:    "kubernetes server version",
				Passed:   false,
				Detail:   fmt.Sprintf("server %q below required %q", server, target.MinKubeVersion),
				Severity: validation.Critical,
			})
			result.Outcome = Fail
		default:
			result.Reports = append(result.Reports, validation.Report{
				Check:    "kubernetes server version",
				Passed:   true,
				Detail:   fmt.Sprintf("server %q meets required %q", server, target.MinKubeVersion),
				Severity: validation.Info,
			})
		}
	}

	logger.Infof("preflight for %s -> %s: %s", expected, target.Version, result.Outcome)
	return result, nil
}
