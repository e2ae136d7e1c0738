// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resources

import (
	"context"

	"github.com/juju/errors"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	v1 "k8s.io/client-go/kubernetes/typed/core/v1"
)

// Secret extends the k8s Secret.
type Secret struct {
	client v1.SecretInterface
	corev1.Secret
}

// NewSecret creates a new Secret resource.
func NewSecret(client v1.SecretInterface, namespace, name string, in *corev1.Secret) *Secret {
	if in == nil {
		in = &corev1.Secret{}
	}
	in.SetName(name)
	in.SetNamespace(namespace)
	return &Secret{client, *in}
}

// Clone returns a copy of the resource.
func (s *Secret) Clone() Resource {
	clone := *s
	return &clone
}

// ID returns a comparable ID for the resource.
func (s *Secret) ID() ID {
	return ID{"Secret", s.Name, s.Namespace}
}

// Apply patches the resource change.
func (s *Secret) Apply(ctx context.Context) error {
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, &s.Secret)
	if err != nil {
		return errors.Trace(err)
	}
	res, err := s.client.Patch(ctx, s.Name, preferredPatchStrategy, data, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if k8serrors.IsNotFound(err) {
		res, err = s.client.Create(ctx, &s.Secret, metav1.CreateOptions{
			FieldManager: FieldManager,
		})
	}
	if k8serrors.IsConflict(err) {
		return errors.Annotatef(ErrConflict, "secret %q", s.Name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	s.Secret = *res
	return nil
}

// Get refreshes the resource.
func (s *Secret) Get(ctx context.Context) error {
	res, err := s.client.Get(ctx, s.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, "k8s")
	} else if err != nil {
		return errors.Trace(err)
	}
	s.Secret = *res
	return nil
}

// Delete removes the resource.
func (s *Secret) Delete(ctx context.Context) error {
	err := s.client.Delete(ctx, s.Name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
