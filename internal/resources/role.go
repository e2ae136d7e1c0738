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

// Role extends the k8s Role.
type Role struct {
	client v1.RoleInterface
	rbacv1.Role
}

// NewRole creates a new Role resource.
func NewRole(client v1.RoleInterface, namespace, name string, in *rbacv1.Role) *Role {
	if in == nil {
		in = &rbacv1.Role{}
	}
	in.SetName(name)
	in.SetNamespace(namespace)
	return &Role{client, *in}
}

// Clone returns a copy of the resource.
func (r *Role) Clone() Resource {
	clone := *r
	return &clone
}

// ID returns a comparable ID for the resource.
func (r *Role) ID() ID {
	return ID{"Role", r.Name, r.Namespace}
}

// Apply patches the resource change.
func (r *Role) Apply(ctx context.Context) error {
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, &r.Role)
	if err != nil {
		return errors.Trace(err)
	}
	res, err := r.client.Patch(ctx, r.Name, preferredPatchStrategy, data, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if k8serrors.IsNotFound(err) {
		res, err = r.client.Create(ctx, &r.Role, metav1.CreateOptions{
			FieldManager: FieldManager,
		})
	}
	if k8serrors.IsConflict(err) {
		return errors.Annotatef(ErrConflict, "role %q", r.Name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	r.Role = *res
	return nil
}

// Get refreshes the resource.
func (r *Role) Get(ctx context.Context) error {
	res, err := r.client.Get(ctx, r.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, "k8s")
	} else if err != nil {
		return errors.Trace(err)
	}
	r.Role = *res
	return nil
}

// Delete removes the resource.
func (r *Role) Delete(ctx context.Context) error {
	err := r.client.Delete(ctx, r.Name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
