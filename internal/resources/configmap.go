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

// ConfigMap extends the k8s ConfigMap.
type ConfigMap struct {
	client v1.ConfigMapInterface
	corev1.ConfigMap
}

// NewConfigMap creates a new ConfigMap resource.
func NewConfigMap(client v1.ConfigMapInterface, namespace, name string, in *corev1.ConfigMap) *ConfigMap {
	if in == nil {
		in = &corev1.ConfigMap{}
	}
	in.SetName(name)
	in.SetNamespace(namespace)
	return &ConfigMap{client, *in}
}

// Clone returns a copy of the resource.
func (cm *ConfigMap) Clone() Resource {
	clone := *cm
	return &clone
}

// ID returns a comparable ID for the resource.
func (cm *ConfigMap) ID() ID {
	return ID{"ConfigMap", cm.Name, cm.Namespace}
}

// Apply patches the resource change.
func (cm *ConfigMap) Apply(ctx context.Context) error {
	data, err := runtime.Encode(unstructured.UnstructuredJSONScheme, &cm.ConfigMap)
	if err != nil {
		return errors.Trace(err)
	}
	res, err := cm.client.Patch(ctx, cm.Name, preferredPatchStrategy, data, metav1.PatchOptions{
		FieldManager: FieldManager,
	})
	if k8serrors.IsNotFound(err) {
		res, err = cm.client.Create(ctx, &cm.ConfigMap, metav1.CreateOptions{
			FieldManager: FieldManager,
		})
	}
	if k8serrors.IsConflict(err) {
		return errors.Annotatef(ErrConflict, "configmap %q", cm.Name)
	}
	if err != nil {
		return errors.Trace(err)
	}
	cm.ConfigMap = *res
	return nil
}

// Get refreshes the resource.
func (cm *ConfigMap) Get(ctx context.Context) error {
	res, err := cm.client.Get(ctx, cm.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return errors.NewNotFound(err, "k8s")
	} else if err != nil {
		return errors.Trace(err)
	}
	cm.ConfigMap = *res
	return nil
}

// Delete removes the resource.
func (cm *ConfigMap) Delete(ctx context.Context) error {
	err := cm.client.Delete(ctx, cm.Name, metav1.DeleteOptions{})
	if k8serrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	return nil
}
