// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"bytes"
	"context"

	"github.com/juju/errors"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// dump serializes one resource category as a multi-document YAML stream.
// Listed objects carry no TypeMeta, and server-managed metadata would make
// the dump unrestorable, so both are normalised here.
func (m *Manager) dump(ctx context.Context, cat Category) ([]byte, error) {
	api := m.client.API()
	ns := m.client.Namespace()
	opts := metav1.ListOptions{}
	var objs []interface{}
	switch cat {
	case CategoryConfig:
		list, err := api.CoreV1().ConfigMaps(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range list.Items {
			item := list.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "ConfigMap", APIVersion: "v1"}
			scrub(&item.ObjectMeta)
			objs = append(objs, item)
		}
	case CategoryAccessPolicy:
		roles, err := api.RbacV1().Roles(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range roles.Items {
			item := roles.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "Role", APIVersion: "rbac.authorization.k8s.io/v1"}
			scrub(&item.ObjectMeta)
			objs = append(objs, item)
		}
		bindings, err := api.RbacV1().RoleBindings(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range bindings.Items {
			item := bindings.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "RoleBinding", APIVersion: "rbac.authorization.k8s.io/v1"}
			scrub(&item.ObjectMeta)
			objs = append(objs, item)
		}
	case CategoryWorkloads:
		deps, err := api.AppsV1().Deployments(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range deps.Items {
			item := deps.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "Deployment", APIVersion: "apps/v1"}
			scrub(&item.ObjectMeta)
			item.Status = appsv1.DeploymentStatus{}
			objs = append(objs, item)
		}
		sets, err := api.AppsV1().StatefulSets(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range sets.Items {
			item := sets.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "StatefulSet", APIVersion: "apps/v1"}
			scrub(&item.ObjectMeta)
			item.Status = appsv1.StatefulSetStatus{}
			objs = append(objs, item)
		}
		svcs, err := api.CoreV1().Services(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range svcs.Items {
			item := svcs.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "Service", APIVersion: "v1"}
			scrub(&item.ObjectMeta)
			objs = append(objs, item)
		}
	case CategorySecrets:
		list, err := api.CoreV1().Secrets(ns).List(ctx, opts)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for i := range list.Items {
			item := list.Items[i]
			item.TypeMeta = metav1.TypeMeta{Kind: "Secret", APIVersion: "v1"}
			scrub(&item.ObjectMeta)
			objs = append(objs, item)
		}
	default:
		return nil, errors.NotValidf("category %q", cat)
	}
	return marshalDocs(objs)
}

func scrub(meta *metav1.ObjectMeta) {
	meta.ResourceVersion = ""
	meta.UID = ""
	meta.Generation = 0
	meta.CreationTimestamp = metav1.Time{}
	meta.ManagedFields = nil
}

func marshalDocs(objs []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	for i, obj := range objs {
		data, err := yaml.Marshal(obj)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if i > 0 {
			buf.WriteString(docSeparator)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
