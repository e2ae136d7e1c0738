// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resources

import (
	"github.com/juju/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"
)

// FromYAML decodes a single-document manifest into the matching typed
// resource, bound to the given clientset and namespace.
func FromYAML(api kubernetes.Interface, namespace string, doc []byte) (Resource, error) {
	var probe metav1.TypeMeta
	if err := yaml.Unmarshal(doc, &probe); err != nil {
		return nil, errors.Annotate(err, "probing manifest kind")
	}
	switch probe.Kind {
	case "ConfigMap":
		var obj corev1.ConfigMap
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewConfigMap(api.CoreV1().ConfigMaps(namespace), namespace, obj.Name, &obj), nil
	case "Secret":
		var obj corev1.Secret
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewSecret(api.CoreV1().Secrets(namespace), namespace, obj.Name, &obj), nil
	case "Service":
		var obj corev1.Service
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewService(api.CoreV1().Services(namespace), namespace, obj.Name, &obj), nil
	case "Deployment":
		var obj appsv1.Deployment
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewDeployment(api.AppsV1().Deployments(namespace), namespace, obj.Name, &obj), nil
	case "StatefulSet":
		var obj appsv1.StatefulSet
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewStatefulSet(api.AppsV1().StatefulSets(namespace), namespace, obj.Name, &obj), nil
	case "Role":
		var obj rbacv1.Role
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewRole(api.RbacV1().Roles(namespace), namespace, obj.Name, &obj), nil
	case "RoleBinding":
		var obj rbacv1.RoleBinding
		if err := yaml.Unmarshal(doc, &obj); err != nil {
			return nil, errors.Trace(err)
		}
		return NewRoleBinding(api.RbacV1().RoleBindings(namespace), namespace, obj.Name, &obj), nil
	case "":
		return nil, errors.NotValidf("manifest without kind")
	}
	return nil, errors.NotSupportedf("resource kind %q", probe.Kind)
}

// FromDocs decodes a slice of single-document manifests in order.
func FromDocs(api kubernetes.Interface, namespace string, docs [][]byte) ([]Resource, error) {
	out := make([]Resource, 0, len(docs))
	for _, doc := range docs {
		res, err := FromYAML(api, namespace, doc)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, res)
	}
	return out, nil
}
