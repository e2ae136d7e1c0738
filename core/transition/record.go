// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package transition holds the record of a single version transition as it
// moves through the orchestration phases.
package transition

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/version/v2"

	"github.com/juju/ratchet/core/validation"
)

// Status describes where in its lifecycle a transition currently is.
type Status string

const (
	Init                 Status = "init"
	Preflighted          Status = "preflighted"
	BackupCaptured       Status = "backup-captured"
	AdvisoryAcknowledged Status = "advisory-acknowledged"
	Applying             Status = "applying"
	HealthPending        Status = "health-pending"
	Validating           Status = "validating"
	Success              Status = "success"
	Failed               Status = "failed"
	RolledBack           Status = "rolled-back"
)

// Terminal reports whether no further phase may follow this status.
func (s Status) Terminal() bool {
	return s == Success || s == RolledBack
}

// validNext enumerates the legal phase ordering. Failed may only move to
// RolledBack, and only by explicit operator action.
var validNext = map[Status][]Status{
	Init:                 {Preflighted},
	Preflighted:          {BackupCaptured},
	BackupCaptured:       {AdvisoryAcknowledged},
	AdvisoryAcknowledged: {Applying},
	Applying:             {HealthPending},
	HealthPending:        {Validating},
	Validating:           {Success, Failed},
	Failed:               {RolledBack},
}

// Record tracks one attempt to move the managed application from one release
// to the next. It is created at transition start, mutated through the phases
// and becomes immutable once a terminal status is reached.
type Record struct {
	FromVersion version.Number
	ToVersion   version.Number
	StartedAt   time.Time
	BackupRef   string
	Status      Status
	Reports     []validation.Report
}

// New returns a Record in the Init phase.
func New(from, to version.Number, now time.Time) *Record {
	return &Record{
		FromVersion: from,
		ToVersion:   to,
		StartedAt:   now,
		Status:      Init,
	}
}

// Advance moves the record to the next status, enforcing the phase ordering.
// Any phase may fail; Failed is therefore reachable from every non-terminal
// status, not only Validating.
func (r *Record) Advance(next Status) error {
	if next == Failed && !r.Status.Terminal() && r.Status != Failed {
		r.Status = Failed
		return nil
	}
	for _, s := range validNext[r.Status] {
		if s == next {
			r.Status = next
			return nil
		}
	}
	return errors.NotValidf("status change %q -> %q", r.Status, next)
}

// AddReports appends validation output to the record.
func (r *Record) AddReports(reports ...validation.Report) {
	r.Reports = append(r.Reports, reports...)
}
