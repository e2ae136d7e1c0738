// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
)

const validateDoc = `
Run the post-transition check set against whatever release the cluster
currently reports: version marker agreement, workload convergence, and
the release-specific invariants. The command exits non-zero when any
critical check fails.
`

type validateCommand struct {
	commandBase
}

func newValidateCommand() cmd.Command {
	return &validateCommand{}
}

// Info implements cmd.Command.
func (c *validateCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "validate",
		Purpose: "validate the current tideway release",
		Doc:     validateDoc,
	}
}

// Init implements cmd.Command.
func (c *validateCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *validateCommand) Run(ctx *cmd.Context) error {
	orch, err := c.newOrchestrator(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	result, err := orch.Validate(ctx.Context)
	if err != nil {
		return errors.Trace(err)
	}
	writeReports(ctx, result.Reports)
	if result.Failed() {
		return errors.New("validation failed")
	}
	fmt.Fprintln(ctx.Stdout, "validation passed")
	return nil
}
