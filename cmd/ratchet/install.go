// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
)

const installDoc = `
Deploy the first catalogued tideway release onto an empty namespace. The
command fails if a version marker already exists; use upgrade to move an
existing installation forward.
`

type installCommand struct {
	commandBase
}

func newInstallCommand() cmd.Command {
	return &installCommand{}
}

// Info implements cmd.Command.
func (c *installCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "install",
		Purpose: "install the first tideway release",
		Doc:     installDoc,
	}
}

// Init implements cmd.Command.
func (c *installCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *installCommand) Run(ctx *cmd.Context) error {
	orch, err := c.newOrchestrator(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	rec, err := orch.Install(ctx.Context)
	if rec != nil {
		writeReports(ctx, rec.Reports)
	}
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(ctx.Stdout, "installed tideway %s\n", rec.ToVersion)
	return nil
}
