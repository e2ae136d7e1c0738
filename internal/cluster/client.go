// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cluster is ratchet's only window onto the Kubernetes cluster that
// runs the managed application. Everything the orchestration core reads or
// mutates goes through this facade, which keeps the rest of the code free of
// client-go plumbing and makes the whole engine testable against the fake
// clientset.
package cluster

import (
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/version/v2"
	core "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var logger = loggo.GetLogger("ratchet.cluster")

const (
	// VersionMarkerName is the ConfigMap recording which release the
	// cluster currently runs.
	VersionMarkerName = "tideway-release"
	versionMarkerKey  = "version"
)

// Client wraps a namespaced view of the cluster.
type Client struct {
	api       kubernetes.Interface
	namespace string
}

// New returns a Client scoped to the given namespace.
func New(api kubernetes.Interface, namespace string) *Client {
	return &Client{api: api, namespace: namespace}
}

// API exposes the underlying clientset for the resource layer.
func (c *Client) API() kubernetes.Interface {
	return c.api
}

// Namespace returns the namespace this client is scoped to.
func (c *Client) Namespace() string {
	return c.namespace
}

// ReportedVersion reads the release version the cluster reports via the
// version marker ConfigMap.
func (c *Client) ReportedVersion(ctx context.Context) (version.Number, error) {
	cm, err := c.api.CoreV1().ConfigMaps(c.namespace).Get(ctx, VersionMarkerName, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return version.Zero, errors.NotFoundf("version marker %q", VersionMarkerName)
	} else if err != nil {
		return version.Zero, errors.Trace(err)
	}
	raw, ok := cm.Data[versionMarkerKey]
	if !ok {
		return version.Zero, errors.NotValidf("version marker without %q key", versionMarkerKey)
	}
	v, err := version.Parse(raw)
	if err != nil {
		return version.Zero, errors.Annotatef(err, "version marker %q", raw)
	}
	return v, nil
}

// SetReportedVersion writes the version marker, creating it if needed.
func (c *Client) SetReportedVersion(ctx context.Context, v version.Number) error {
	cms := c.api.CoreV1().ConfigMaps(c.namespace)
	cm, err := cms.Get(ctx, VersionMarkerName, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		_, err = cms.Create(ctx, &core.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      VersionMarkerName,
				Namespace: c.namespace,
			},
			Data: map[string]string{versionMarkerKey: v.String()},
		}, metav1.CreateOptions{})
		return errors.Trace(err)
	} else if err != nil {
		return errors.Trace(err)
	}
	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	cm.Data[versionMarkerKey] = v.String()
	_, err = cms.Update(ctx, cm, metav1.UpdateOptions{})
	return errors.Trace(err)
}

// Workload summarises the convergence state of one managed workload.
type Workload struct {
	Name    string
	Kind    string
	Desired int32
	Ready   int32
}

// Healthy reports whether the workload has converged.
func (w Workload) Healthy() bool {
	return w.Desired > 0 && w.Ready == w.Desired
}

// WorkloadSummary lists every Deployment and StatefulSet in the namespace
// with its desired and ready replica counts.
func (c *Client) WorkloadSummary(ctx context.Context) ([]Workload, error) {
	var out []Workload
	deps, err := c.api.AppsV1().Deployments(c.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Annotate(err, "listing deployments")
	}
	for _, d := range deps.Items {
		desired := int32(1)
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		out = append(out, Workload{
			Name:    d.Name,
			Kind:    "Deployment",
			Desired: desired,
			Ready:   d.Status.ReadyReplicas,
		})
	}
	sets, err := c.api.AppsV1().StatefulSets(c.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Annotate(err, "listing statefulsets")
	}
	for _, s := range sets.Items {
		desired := int32(1)
		if s.Spec.Replicas != nil {
			desired = *s.Spec.Replicas
		}
		out = append(out, Workload{
			Name:    s.Name,
			Kind:    "StatefulSet",
			Desired: desired,
			Ready:   s.Status.ReadyReplicas,
		})
	}
	return out, nil
}

// ServerVersion reports the Kubernetes server version, or version.Zero when
// the server does not say.
func (c *Client) ServerVersion() (version.Number, error) {
	info, err := c.api.Discovery().ServerVersion()
	if err != nil {
		return version.Zero, errors.Trace(err)
	}
	raw := strings.TrimPrefix(info.GitVersion, "v")
	if i := strings.IndexAny(raw, "+-"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return version.Zero, nil
	}
	v, err := version.Parse(raw)
	if err != nil {
		logger.Debugf("unparseable server version %q: %v", info.GitVersion, err)
		return version.Zero, nil
	}
	return v, nil
}

// PodLogs fetches logs for pods matching the label selector. The output is
// diagnostic only; nothing in the engine derives pass/fail from it.
func (c *Client) PodLogs(ctx context.Context, selector string) (string, error) {
	pods, err := c.api.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return "", errors.Trace(err)
	}
	var sb strings.Builder
	for _, pod := range pods.Items {
		data, err := c.api.CoreV1().Pods(c.namespace).GetLogs(pod.Name, &core.PodLogOptions{}).DoRaw(ctx)
		if err != nil {
			return "", errors.Annotatef(err, "logs for pod %q", pod.Name)
		}
		sb.WriteString("== " + pod.Name + "\n")
		sb.Write(data)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
