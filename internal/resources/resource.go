// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package resources provides typed wrappers around the Kubernetes objects
// ratchet manages, with a uniform Apply/Get/Delete surface and an Applier
// that runs a queue of operations in order.
package resources

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"k8s.io/apimachinery/pkg/types"
)

var logger = loggo.GetLogger("ratchet.resources")

const (
	// ErrConflict is returned when the cluster reports a resource version
	// conflict during apply.
	ErrConflict = errors.ConstError("resource version conflict")

	// ErrImmutable is returned when an apply is rejected because it would
	// change an immutable field, such as a workload's identity selector.
	ErrImmutable = errors.ConstError("immutable field conflict")
)

// FieldManager identifies ratchet as the owner of applied fields.
const FieldManager = "ratchet"

// preferredPatchStrategy is the patch type used for every apply.
const preferredPatchStrategy = types.StrategicMergePatchType

// ID identifies a resource by type, name and namespace.
type ID struct {
	Type      string
	Name      string
	Namespace string
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Type, id.Name)
}

// Resource is a Kubernetes object ratchet knows how to reconcile.
type Resource interface {
	// ID returns a comparable ID for the resource.
	ID() ID

	// Clone returns a copy of the resource.
	Clone() Resource

	// Apply patches the resource towards its desired state, creating it
	// if it does not exist.
	Apply(ctx context.Context) error

	// Get refreshes the resource from the cluster.
	Get(ctx context.Context) error

	// Delete removes the resource. Deleting an absent resource is not an
	// error.
	Delete(ctx context.Context) error
}

type opType int

const (
	opApply opType = iota
	opDelete
)

type operation struct {
	opType
	resource Resource
}

// Applier queues apply and delete operations and runs them in order. The
// queue halts on the first error; operations already run are left in place,
// since the engine never rolls back implicitly.
type Applier struct {
	ops []operation
}

// NewApplier returns an empty Applier.
func NewApplier() *Applier {
	return &Applier{}
}

// Apply queues the resources for application.
func (a *Applier) Apply(resources ...Resource) {
	for _, r := range resources {
		a.ops = append(a.ops, operation{opApply, r})
	}
}

// Delete queues the resources for deletion.
func (a *Applier) Delete(resources ...Resource) {
	for _, r := range resources {
		a.ops = append(a.ops, operation{opDelete, r})
	}
}

// Run executes the queued operations in order.
func (a *Applier) Run(ctx context.Context) error {
	for _, op := range a.ops {
		var err error
		switch op.opType {
		case opApply:
			logger.Debugf("applying %s", op.resource.ID())
			err = op.resource.Apply(ctx)
		case opDelete:
			logger.Debugf("deleting %s", op.resource.ID())
			err = op.resource.Delete(ctx)
		}
		if err != nil {
			return errors.Annotatef(err, "processing %s", op.resource.ID())
		}
	}
	return nil
}
