// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package validation defines the structured check results shared by the
// preflight and post-transition validators.
package validation

// Severity grades how serious a failed check is.
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Report is the outcome of one independent check.
type Report struct {
	Check    string
	Passed   bool
	Detail   string
	Severity Severity
}

// AnyCriticalFailure reports whether the given reports contain a failed
// critical check.
func AnyCriticalFailure(reports []Report) bool {
	for _, r := range reports {
		if !r.Passed && r.Severity == Critical {
			return true
		}
	}
	return false
}
