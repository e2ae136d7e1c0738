// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// ratchet drives the tideway application through its ordered chain of
// release versions, one health-gated, backup-protected transition at a
// time.
package main

import (
	"os"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("ratchet.cmd")

const ratchetDoc = `
ratchet installs and upgrades the tideway application on a Kubernetes
cluster. Every upgrade moves exactly one step along the release chain:
preflight checks run first, a durable backup of the orchestrator-managed
state is captured before anything mutates, documented breaking changes
must be acknowledged, and the transition only succeeds once the target
release is healthy and validated. A failed transition is never rolled
back automatically; the matching rollback command is printed instead.
`

// Main runs the ratchet super command.
func Main(args []string) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		logger.Errorf("creating command context: %v", err)
		return 2
	}
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "ratchet",
		Doc:     ratchetDoc,
		Purpose: "orchestrate tideway release transitions",
		Log:     &cmd.Log{},
	})
	super.Register(newInstallCommand())
	super.Register(newUpgradeCommand())
	super.Register(newValidateCommand())
	super.Register(newRollbackCommand())
	super.Register(newCleanupCommand())
	return cmd.Main(super, ctx, args)
}

func main() {
	os.Exit(Main(os.Args[1:]))
}
