// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package health_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/ratchet/core/health"
)

type healthSuite struct{}

var _ = gc.Suite(&healthSuite{})

func (s *healthSuite) TestAllReady(c *gc.C) {
	// An empty snapshot proves nothing.
	c.Assert(health.AllReady(nil), jc.IsFalse)
	c.Assert(health.AllReady([]health.CheckResult{
		{Component: "tideway-server", Status: health.Ready},
		{Component: "tideway-gateway", Status: health.Ready},
	}), jc.IsTrue)
	c.Assert(health.AllReady([]health.CheckResult{
		{Component: "tideway-server", Status: health.Ready},
		{Component: "tideway-gateway", Status: health.Pending},
	}), jc.IsFalse)
}
