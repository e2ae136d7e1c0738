// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resources

import (
	"context"

	"github.com/juju/errors"
	rbacv1 "k8s.io/api/rbac/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	v1 "k8s.io/client-go/kubernetes/typed/rbac/v1"
)

// RoleBinding extends the k8s RoleBinding.
type RoleBinding struct {
	client v1.RoleBindingInterface
	rbacv1.RoleBinding
}

// NewRoleBinding creates a new RoleBinding resource.
func NewRoleBinding(client v1.RoleBindingInterface, namespace, name string, in *rbacv1.RoleBinding) *RoleBinding {
	if in == nil {
		in = &rbacv1.RoleBinding{}
	}
	in.SetName(name)
	in.SetNamespace(namespace)
	return &RoleBinding{client, *in}
}

// Clone returns a copy of the resource.
func (rb *RoleBinding) Clone() Resource {
	clone := *rb
	return &clone
}

// ID returns a comparable ID for the resource.
func (rb *RoleBinding) ID() ID {
	return ID{"RoleBinding", rb.Name, rb.Namespace}
}

// Apply patches the resource change. RoleBinding roleRefs are immutable, so
// a rejected change surfaces as ErrImmutable just as for stateful sets.
func (rb *RoleBinding) Apply(ctx context.Context) error {
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, &rb.RoleBinding)
	if err != nil {
		return errors.Trace(err)
	}
	res, err := rb.client.Patch(ctx, rb.Name, preferredPatchStrategy, data, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if k8serrors.IsNotFound(err) {
		res, err = rb.client.Create(ctx, &rb.RoleBinding, metav1.CreateOptions{
			FieldManager: FieldManager,
		})
	}
	if k8serrors.IsInvalid(err) {
		return errors.Annotatef(ErrImmutable, "rolebinding %q", rb.Name)
	}
	if k8serrors.IsConflict(err) {
		return errors.Annotatef(ErrConflict, "rolebinding %q", rb.Name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	rb.RoleBinding = *res
	return nil
}

// Get refreshes the resource.
func (rb *RoleBinding) Get(ctx context.Context) error {
	res, err := rb.client.Get(ctx, rb.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, "k8s")
	} else if err != nil {
		return errors.Trace(err)
	}
	rb.RoleBinding = *res
	return nil
}

// Delete removes the resource.
func (rb *RoleBinding) Delete(ctx context.Context) error {
	err := rb.client.Delete(ctx, rb.Name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
