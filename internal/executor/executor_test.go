// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor_test

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/version/v2"
	gc "gopkg.in/check.v1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/juju/ratchet/internal/catalog"
	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/executor"
)

type executorSuite struct {
	graph *catalog.Graph
}

var _ = gc.Suite(&executorSuite{})

func (s *executorSuite) SetUpTest(c *gc.C) {
	graph, err := catalog.Load()
	c.Assert(err, jc.ErrorIsNil)
	s.graph = graph
}

func (s *executorSuite) node(c *gc.C, v string) *catalog.ReleaseNode {
	node, err := s.graph.Lookup(version.MustParse(v))
	c.Assert(err, jc.ErrorIsNil)
	return node
}

func (s *executorSuite) TestRunAppliesReleaseAndMarker(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset()
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	c.Assert(exec.Run(ctx, s.node(c, "2.12.4")), jc.ErrorIsNil)

	set, err := api.AppsV1().StatefulSets("tideway").Get(ctx, "tideway-server", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(set.Spec.Template.Spec.Containers[0].Image, gc.Equals, "ghcr.io/tideway/server:2.12.4")

	dep, err := api.AppsV1().Deployments("tideway").Get(ctx, "tideway-gateway", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(dep.Spec.Template.Spec.Containers[0].Image, gc.Equals, "ghcr.io/tideway/gateway:2.12.4")

	v, err := client.ReportedVersion(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(v, gc.Equals, version.MustParse("2.12.4"))
}

func (s *executorSuite) TestRunIsIdempotent(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset()
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	c.Assert(exec.Run(ctx, s.node(c, "2.12.4")), jc.ErrorIsNil)
	c.Assert(exec.Run(ctx, s.node(c, "2.12.4")), jc.ErrorIsNil)

	list, err := api.AppsV1().StatefulSets("tideway").List(ctx, metav1.ListOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(list.Items, gc.HasLen, 1)
}

func (s *executorSuite) TestRunHonoursCancellationBeforeMutating(c *gc.C) {
	api := fake.NewSimpleClientset()
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := exec.Run(ctx, s.node(c, "2.12.4"))
	c.Assert(err, jc.ErrorIs, context.Canceled)

	list, err := api.AppsV1().StatefulSets("tideway").List(context.Background(), metav1.ListOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(list.Items, gc.HasLen, 0)
}

func (s *executorSuite) TestConfigKeyMigration(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-config", Namespace: "tideway"},
		Data: map[string]string{
			"logLevel":         "info",
			"snapshotInterval": "5m",
			"extra":            "untouched",
		},
	})
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	c.Assert(exec.Run(ctx, s.node(c, "2.13.1")), jc.ErrorIsNil)

	cm, err := api.CoreV1().ConfigMaps("tideway").Get(ctx, "tideway-config", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(cm.Data["log-level"], gc.Equals, "info")
	c.Assert(cm.Data["snapshot-interval"], gc.Equals, "5m")
	c.Assert(cm.Data["extra"], gc.Equals, "untouched")
	_, hasLegacy := cm.Data["logLevel"]
	c.Assert(hasLegacy, jc.IsFalse)
}

func (s *executorSuite) TestConfigKeyMigrationKeepsExistingNewKey(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-config", Namespace: "tideway"},
		Data: map[string]string{
			"logLevel":  "info",
			"log-level": "debug",
		},
	})
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	c.Assert(exec.Run(ctx, s.node(c, "2.13.1")), jc.ErrorIsNil)

	cm, err := api.CoreV1().ConfigMaps("tideway").Get(ctx, "tideway-config", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	// The already-migrated value wins; the legacy key is simply dropped.
	c.Assert(cm.Data["log-level"], gc.Equals, "debug")
}

func (s *executorSuite) TestAccessPolicySplitMigration(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset(
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "tideway-config", Namespace: "tideway"},
			Data:       map[string]string{"log-level": "info"},
		},
		&rbacv1.RoleBinding{
			ObjectMeta: metav1.ObjectMeta{Name: "tideway-operator", Namespace: "tideway"},
			Subjects: []rbacv1.Subject{{
				Kind: "ServiceAccount", Name: "tideway-server", Namespace: "tideway",
			}},
			RoleRef: rbacv1.RoleRef{Kind: "Role", Name: "tideway-operator"},
		},
	)
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	c.Assert(exec.Run(ctx, s.node(c, "3.0.0")), jc.ErrorIsNil)

	admin, err := api.RbacV1().Roles("tideway").Get(ctx, "tideway-admin", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(admin.Rules[0].Verbs, jc.DeepEquals, []string{"get", "list", "create", "update", "delete"})

	auditor, err := api.RbacV1().Roles("tideway").Get(ctx, "tideway-auditor", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(auditor.Rules, gc.HasLen, 1)
	c.Assert(auditor.Rules[0].Resources, jc.DeepEquals, []string{"audits"})
	c.Assert(auditor.Rules[0].Verbs, jc.DeepEquals, []string{"get", "list"})

	// Legacy operator subjects keep their access through the admin binding.
	binding, err := api.RbacV1().RoleBindings("tideway").Get(ctx, "tideway-admin", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(binding.Subjects, gc.HasLen, 1)
	c.Assert(binding.Subjects[0].Name, gc.Equals, "tideway-server")
	c.Assert(binding.RoleRef.Name, gc.Equals, "tideway-admin")
}

func (s *executorSuite) TestGenerationLabelsStamped(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset(
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "tideway-config", Namespace: "tideway"},
			Data:       map[string]string{"log-level": "info"},
		},
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "tideway-gateway", Namespace: "tideway"},
		},
		&appsv1.StatefulSet{
			ObjectMeta: metav1.ObjectMeta{Name: "tideway-server", Namespace: "tideway"},
		},
	)
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	c.Assert(exec.Run(ctx, s.node(c, "3.0.0")), jc.ErrorIsNil)

	dep, err := api.AppsV1().Deployments("tideway").Get(ctx, "tideway-gateway", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(dep.Labels["tideway.io/generation"], gc.Equals, "3")

	set, err := api.AppsV1().StatefulSets("tideway").Get(ctx, "tideway-server", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(set.Labels["tideway.io/generation"], gc.Equals, "3")
}

func (s *executorSuite) TestMigrationFailureIsFatal(c *gc.C) {
	// 2.13.1 requires the config migration; with no tideway-config the step
	// cannot run and the apply must not happen.
	ctx := context.Background()
	api := fake.NewSimpleClientset()
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)

	err := exec.Run(ctx, s.node(c, "2.13.1"))
	c.Assert(err, jc.ErrorIs, executor.ErrApply)

	_, err = client.ReportedVersion(ctx)
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	list, err := api.AppsV1().StatefulSets("tideway").List(ctx, metav1.ListOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(list.Items, gc.HasLen, 0)
}

func (s *executorSuite) TestImmutableSelectorTriggersOneRecreate(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset(
		&appsv1.StatefulSet{
			ObjectMeta: metav1.ObjectMeta{Name: "tideway-server", Namespace: "tideway"},
		},
		&corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{Name: "data-tideway-server-0", Namespace: "tideway"},
		},
	)

	patches := 0
	api.PrependReactor("patch", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		patches++
		if patches == 1 {
			return true, nil, k8serrors.NewInvalid(
				schema.GroupKind{Group: "apps", Kind: "StatefulSet"},
				"tideway-server",
				field.ErrorList{field.Forbidden(field.NewPath("spec", "selector"), "field is immutable")},
			)
		}
		return false, nil, nil
	})
	var propagation *metav1.DeletionPropagation
	api.PrependReactor("delete", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		propagation = action.(k8stesting.DeleteAction).GetDeleteOptions().PropagationPolicy
		return false, nil, nil
	})

	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)
	exec.SetRecreatePoll(10*time.Millisecond, 5*time.Second)

	c.Assert(exec.Run(ctx, s.node(c, "2.12.4")), jc.ErrorIsNil)

	// The object was deleted with orphan propagation and applied again.
	c.Assert(propagation, gc.NotNil)
	c.Assert(*propagation, gc.Equals, metav1.DeletePropagationOrphan)

	set, err := api.AppsV1().StatefulSets("tideway").Get(ctx, "tideway-server", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(set.Spec.Template.Spec.Containers[0].Image, gc.Equals, "ghcr.io/tideway/server:2.12.4")

	// The claim survives the scoped delete.
	_, err = api.CoreV1().PersistentVolumeClaims("tideway").Get(ctx, "data-tideway-server-0", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *executorSuite) TestImmutableConflictTwiceIsFatal(c *gc.C) {
	ctx := context.Background()
	api := fake.NewSimpleClientset(&appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-server", Namespace: "tideway"},
	})
	api.PrependReactor("patch", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8serrors.NewInvalid(
			schema.GroupKind{Group: "apps", Kind: "StatefulSet"},
			"tideway-server",
			field.ErrorList{field.Forbidden(field.NewPath("spec", "selector"), "field is immutable")},
		)
	})
	client := cluster.New(api, "tideway")
	exec := executor.New(client, clock.WallClock)
	exec.SetRecreatePoll(10*time.Millisecond, time.Second)

	err := exec.Run(ctx, s.node(c, "2.12.4"))
	c.Assert(err, jc.ErrorIs, executor.ErrApply)
}
