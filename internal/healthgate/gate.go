// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package healthgate waits, within a bound, for every required component of
// a target release to report Ready. The verdict comes exclusively from the
// structured workload status the cluster reports; log output plays no part.
package healthgate

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/juju/ratchet/core/health"
	"github.com/juju/ratchet/internal/catalog"
	"github.com/juju/ratchet/internal/cluster"
)

var logger = loggo.GetLogger("ratchet.healthgate")

// ErrHealthTimeout is returned when required components are not Ready
// within the wait bound. It is recoverable: the operator may retry the
// wait or inspect the cluster manually.
const ErrHealthTimeout = errors.ConstError("timed out waiting for readiness")

const defaultPollDelay = 5 * time.Second

// Gate polls workload readiness.
type Gate struct {
	client    *cluster.Client
	clock     clock.Clock
	pollDelay time.Duration
}

// New returns a Gate.
func New(client *cluster.Client, clk clock.Clock) *Gate {
	return &Gate{client: client, clock: clk, pollDelay: defaultPollDelay}
}

// SetPollDelay tightens polling for tests.
func (g *Gate) SetPollDelay(d time.Duration) {
	g.pollDelay = d
}

// Wait blocks until every required component of the release is Ready or
// the timeout elapses. The returned results always enumerate every
// required component, and on timeout they are the final diagnostic
// snapshot accompanying ErrHealthTimeout. Missing optional components are
// reported as Pending but never fail the gate.
func (g *Gate) Wait(ctx context.Context, node *catalog.ReleaseNode, timeout time.Duration) ([]health.CheckResult, error) {
	var last []health.CheckResult
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			results, allReady, err := g.observe(ctx, node)
			if err != nil {
				return errors.Trace(err)
			}
			last = results
			if !allReady {
				return errors.Errorf("required components not ready")
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("health gate attempt %d: %v", attempt, err)
		},
		Attempts:    -1,
		Delay:       g.pollDelay,
		MaxDuration: timeout,
		Clock:       g.clock,
	})
	if retry.IsDurationExceeded(err) || retry.IsAttemptsExceeded(err) {
		for i, r := range last {
			if r.Status != health.Ready {
				last[i].Status = health.Timeout
			}
		}
		return last, errors.Annotatef(ErrHealthTimeout, "after %v", timeout)
	}
	if err != nil {
		return last, errors.Trace(err)
	}
	logger.Infof("all required components of %s ready", node.Version)
	return last, nil
}

// observe takes one readiness snapshot. Required components absent from the
// cluster are Pending; present ones are graded on ready versus desired.
func (g *Gate) observe(ctx context.Context, node *catalog.ReleaseNode) ([]health.CheckResult, bool, error) {
	workloads, err := g.client.WorkloadSummary(ctx)
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	byName := make(map[string]cluster.Workload)
	for _, w := range workloads {
		byName[w.Name] = w
	}
	optional := set.NewStrings()
	for _, comp := range node.Components {
		if comp.Optional {
			optional.Add(comp.Name)
		}
	}

	var results []health.CheckResult
	allReady := true
	for _, comp := range node.Components {
		w, found := byName[comp.Name]
		if !found {
			if optional.Contains(comp.Name) {
				logger.Warningf("optional component %q absent", comp.Name)
				continue
			}
			results = append(results, health.CheckResult{
				Component: comp.Name,
				Status:    health.Pending,
			})
			allReady = false
			continue
		}
		result := health.CheckResult{
			Component: comp.Name,
			Desired:   w.Desired,
			Ready:     w.Ready,
		}
		if w.Healthy() {
			result.Status = health.Ready
		} else {
			result.Status = health.Pending
			if !optional.Contains(comp.Name) {
				allReady = false
			}
		}
		results = append(results, result)
	}
	return results, allReady, nil
}
