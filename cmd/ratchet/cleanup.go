// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const cleanupDoc = `
Delete old backup snapshots, keeping the most recent ones. Incomplete
snapshots are never restore candidates and are always removed.
`

type cleanupCommand struct {
	commandBase
	keep int
}

func newCleanupCommand() cmd.Command {
	return &cleanupCommand{}
}

// Info implements cmd.Command.
func (c *cleanupCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "cleanup",
		Purpose: "prune old backup snapshots",
		Doc:     cleanupDoc,
	}
}

// SetFlags implements cmd.Command.
func (c *cleanupCommand) SetFlags(f *gnuflag.FlagSet) {
	c.commandBase.SetFlags(f)
	f.IntVar(&c.keep, "keep", 5, "Number of completed snapshots to keep")
}

// Init implements cmd.Command.
func (c *cleanupCommand) Init(args []string) error {
	if c.keep < 1 {
		return errors.NotValidf("--keep %d", c.keep)
	}
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *cleanupCommand) Run(ctx *cmd.Context) error {
	orch, err := c.newOrchestrator(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	removed, err := orch.Backups().Prune(c.keep)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(ctx.Stdout, "removed %d snapshot(s)\n", removed)
	return nil
}
