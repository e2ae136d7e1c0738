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

// StatefulSet extends the k8s StatefulSet. StatefulSets are the
// identity-bearing workloads of the managed application: their selector and
// volume claim templates are immutable, so an apply that would change them
// is rejected by the server and surfaced here as ErrImmutable.
type StatefulSet struct {
	client v1.StatefulSetInterface
	appsv1.StatefulSet
}

// NewStatefulSet creates a new StatefulSet resource.
func NewStatefulSet(client v1.StatefulSetInterface, namespace, name string, in *appsv1.StatefulSet) *StatefulSet {
	if in == nil {
		in = &appsv1.StatefulSet{}
	}
	in.SetName(name)
	in.SetNamespace(namespace)
	return &StatefulSet{client, *in}
}

// Clone returns a copy of the resource.
func (s *StatefulSet) Clone() Resource {
	clone := *s
	return &clone
}

// ID returns a comparable ID for the resource.
func (s *StatefulSet) ID() ID {
	return ID{"StatefulSet", s.Name, s.Namespace}
}

// Apply patches the resource change.
func (s *StatefulSet) Apply(ctx context.Context) error {
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, &s.StatefulSet)
	if err != nil {
		return errors.Trace(err)
	}
	res, err := s.client.Patch(ctx, s.Name, preferredPatchStrategy, data, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if k8serrors.IsNotFound(err) {
		res, err = s.client.Create(ctx, &s.StatefulSet, metav1.CreateOptions{
			FieldManager: FieldManager,
		})
	}
	if k8serrors.IsInvalid(err) {
		return errors.Annotatef(ErrImmutable, "statefulset %q", s.Name)
	}
	if k8serrors.IsConflict(err) {
		return errors.Annotatef(ErrConflict, "statefulset %q", s.Name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	s.StatefulSet = *res
	return nil
}

// Get refreshes the resource.
func (s *StatefulSet) Get(ctx context.Context) error {
	res, err := s.client.Get(ctx, s.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, "k8s")
	} else if err != nil {
		return errors.Trace(err)
	}
	s.StatefulSet = *res
	return nil
}

// Delete removes the resource.
func (s *StatefulSet) Delete(ctx context.Context) error {
	err := s.client.Delete(ctx, s.Name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}

// DeleteOrphan removes the StatefulSet object only, leaving its pods and
// their PersistentVolumeClaims in place. This is the scoped delete used by
// the executor's delete-recreate escape hatch.
func (s *StatefulSet) DeleteOrphan(ctx context.Context) error {
	policy := metav1.DeletePropagationOrphan
	err := s.client.Delete(ctx, s.Name, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
