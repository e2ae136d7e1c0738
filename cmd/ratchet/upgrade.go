// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/version/v2"
)

const upgradeDoc = `
Upgrade the installation by exactly one step along the release chain.
Without --to, the immediate successor of the reported release is the
target; with --to, the given version must still be that successor.

The upgrade captures a backup before any mutation, surfaces documented
breaking changes (critical ones require confirmation, see --yes), and
validates the target release once it reports healthy. On failure the
cluster is left as it is and the matching rollback command is printed;
nothing is rolled back automatically.
`

type upgradeCommand struct {
	commandBase
	to     string
	target version.Number
}

func newUpgradeCommand() cmd.Command {
	return &upgradeCommand{}
}

// Info implements cmd.Command.
func (c *upgradeCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "upgrade",
		Purpose: "upgrade tideway to the next release",
		Doc:     upgradeDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *upgradeCommand) SetFlags(f *gnuflag.FlagSet) {
	c.commandBase.SetFlags(f)
	f.StringVar(&c.to, "to", "", "Target version (must be the immediate successor)")
}

// Init implements cmd.Command.
func (c *upgradeCommand) Init(args []string) error {
	if c.to != "" {
		v, err := version.Parse(c.to)
		if err != nil {
			return errors.Annotatef(err, "invalid --to version %q", c.to)
		}
		c.target = v
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *upgradeCommand) Run(ctx *cmd.Context) error {
	orch, err := c.newOrchestrator(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	target := c.target
	if target == version.Zero {
		current, err := orch.CurrentVersion(ctx.Context)
		if err != nil {
			return errors.Trace(err)
		}
		next, err := orch.Graph().Next(current)
		if err != nil {
			return errors.Annotatef(err, "no release after %q", current)
		}
		target = next.Version
	}
	rec, err := orch.Upgrade(ctx.Context, target)
	if rec != nil {
		writeReports(ctx, rec.Reports)
	}
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(ctx.Stdout, "upgraded tideway %s -> %s\n", rec.FromVersion, rec.ToVersion)
	return nil
}
