// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resources

import (
	"context"

	"github.com/juju/errors"
	appsv1 "k8s.io/api/apps/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	v1 "k8s.io/client-go/kubernetes/typed/apps/v1"
)

// Deployment extends the k8s Deployment.
type Deployment struct {
	client v1.DeploymentInterface
	appsv1.Deployment
}

// NewDeployment creates a new Deployment resource.
func NewDeployment(client v1.DeploymentInterface, namespace, name string, in *appsv1.Deployment) *Deployment {
	if in == nil {
		in = &appsv1.Deployment{}
	}
	in.SetName(name)
	in.SetNamespace(namespace)
	return &Deployment{client, *in}
}

// Clone returns a copy of the resource.
func (d *Deployment) Clone() Resource {
	clone := *d
	return &clone
}

// ID returns a comparable ID for the resource.
func (d *Deployment) ID() ID {
	return ID{"Deployment", d.Name, d.Namespace}
}

// Apply patches the resource change.
func (d *Deployment) Apply(ctx context.Context) error {
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, &d.Deployment)
	if err != nil {
		return errors.Trace(err)
	}
	res, err := d.client.Patch(ctx, d.Name, preferredPatchStrategy, data, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if k8serrors.IsNotFound(err) {
		res, err = d.client.Create(ctx, &d.Deployment, metav1.CreateOptions{
			FieldManager: FieldManager,
		})
	}
	if k8serrors.IsConflict(err) {
		return errors.Annotatef(ErrConflict, "deployment %q", d.Name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	d.Deployment = *res
	return nil
}

// Get refreshes the resource.
func (d *Deployment) Get(ctx context.Context) error {
	res, err := d.client.Get(ctx, d.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, "k8s")
	} else if err != nil {
		return errors.Trace(err)
	}
	d.Deployment = *res
	return nil
}

// Delete removes the resource.
func (d *Deployment) Delete(ctx context.Context) error {
	err := d.client.Delete(ctx, d.Name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
