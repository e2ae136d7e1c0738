// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/version/v2"
)

const rollbackDoc = `
Restore the most recent completed backup of the given release. A fresh
backup of the current state is captured before the restore, then the
snapshot is applied, the version marker is reset, and the restored
release is waited on and validated.

Rollback never runs automatically; it is always this explicit command,
typically the one printed by a failed upgrade.
`

type rollbackCommand struct {
	commandBase
	target version.Number
}

func newRollbackCommand() cmd.Command {
	return &rollbackCommand{}
}

// Info implements cmd.Command.
func (c *rollbackCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "rollback",
		Args:    "<version>",
		Purpose: "restore a previously backed-up tideway release",
		Doc:     rollbackDoc,
	}
}

// Init implements cmd.Command.
func (c *rollbackCommand) Init(args []string) error {
	if len(args) == 0 {
		return errors.New("no version specified")
	}
	v, err := version.Parse(args[0])
	if err != nil {
		return errors.Annotatef(err, "invalid version %q", args[0])
	}
	c.target = v
	return cmd.CheckEmpty(args[1:])
}

// Run implements cmd.Command.
func (c *rollbackCommand) Run(ctx *cmd.Context) error {
	orch, err := c.newOrchestrator(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	rec, err := orch.Rollback(ctx.Context, c.target)
	if rec != nil {
		writeReports(ctx, rec.Reports)
	}
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(ctx.Stdout, "rolled back to tideway %s\n", c.target)
	return nil
}
