// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package health defines the per-component readiness results reported by the
// health gate.
package health

// Status describes the readiness of a single component.
type Status string

const (
	Pending Status = "pending"
	Ready   Status = "ready"
	Failed  Status = "failed"
	Timeout Status = "timeout"
)

// CheckResult records the observed readiness of one component against what
// the target release requires.
type CheckResult struct {
	Component string
	Desired   int32
	Ready     int32
	Status    Status
}

// AllReady reports whether every result is Ready.
func AllReady(results []CheckResult) bool {
	for _, r := range results {
		if r.Status != Ready {
			return false
		}
	}
	return len(results) > 0
}
