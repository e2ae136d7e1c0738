// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/juju/ratchet/core/validation"
	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/orchestrator"
)

const (
	defaultNamespace = "tideway"
	defaultBackupDir = "/var/lib/ratchet/backups"
	defaultTimeout   = 10 * time.Minute
)

// newAPIClient builds the clientset from an externally provisioned
// kubeconfig. Patchable for tests.
var newAPIClient = func(kubeconfig string) (kubernetes.Interface, error) {
	if kubeconfig == "" {
		kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
	}
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, errors.Annotate(err, "loading kubeconfig")
	}
	return kubernetes.NewForConfig(config)
}

// commandBase carries the flags shared by every ratchet subcommand.
type commandBase struct {
	cmd.CommandBase
	namespace  string
	kubeconfig string
	backupDir  string
	timeout    time.Duration
	assumeYes  bool
}

// SetFlags implements cmd.Command.
func (c *commandBase) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.namespace, "namespace", defaultNamespace, "Namespace the application runs in")
	f.StringVar(&c.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file (defaults to ~/.kube/config)")
	f.StringVar(&c.backupDir, "backup-dir", defaultBackupDir, "Directory holding backup snapshots")
	f.DurationVar(&c.timeout, "timeout", defaultTimeout, "Bound on every readiness wait")
	f.BoolVar(&c.assumeYes, "yes", false, "Answer yes to every confirmation prompt")
}

func (c *commandBase) newOrchestrator(ctx *cmd.Context) (*orchestrator.Orchestrator, error) {
	api, err := newAPIClient(c.kubeconfig)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client := cluster.New(api, c.namespace)
	config := orchestrator.Config{
		AutoConfirm:          c.assumeYes,
		ConfirmationCallback: promptConfirmation(ctx),
		HealthTimeout:        c.timeout,
	}
	return orchestrator.New(client, c.backupDir, clock.WallClock, config)
}

// promptConfirmation asks the operator on the command's terminal.
func promptConfirmation(ctx *cmd.Context) func(string) (bool, error) {
	return func(reason string) (bool, error) {
		fmt.Fprintf(ctx.Stderr, "%s? (y/N) ", reason)
		scanner := bufio.NewScanner(ctx.Stdin)
		if !scanner.Scan() {
			return false, scanner.Err()
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
}

// writeReports prints validation reports in a stable, structured form.
func writeReports(ctx *cmd.Context, reports []validation.Report) {
	for _, r := range reports {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(ctx.Stdout, "%-4s [%s] %s: %s\n", status, r.Severity, r.Check, r.Detail)
	}
}
