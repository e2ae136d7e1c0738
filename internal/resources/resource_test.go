// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resources_test

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/juju/ratchet/internal/resources"
)

type resourceSuite struct {
	api *fake.Clientset
}

var _ = gc.Suite(&resourceSuite{})

func (s *resourceSuite) SetUpTest(c *gc.C) {
	s.api = fake.NewSimpleClientset()
}

func (s *resourceSuite) TestConfigMapApplyCreates(c *gc.C) {
	ctx := context.Background()
	cm := resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "tideway-config", &corev1.ConfigMap{
		Data: map[string]string{"log-level": "info"},
	})
	c.Assert(cm.Apply(ctx), jc.ErrorIsNil)

	got, err := s.api.CoreV1().ConfigMaps("tideway").Get(ctx, "tideway-config", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(got.Data, jc.DeepEquals, map[string]string{"log-level": "info"})
}

func (s *resourceSuite) TestConfigMapApplyPatchesExisting(c *gc.C) {
	ctx := context.Background()
	_, err := s.api.CoreV1().ConfigMaps("tideway").Create(ctx, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-config", Namespace: "tideway"},
		Data:       map[string]string{"log-level": "info", "retention": "7d"},
	}, metav1.CreateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	cm := resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "tideway-config", &corev1.ConfigMap{
		Data: map[string]string{"log-level": "debug"},
	})
	c.Assert(cm.Apply(ctx), jc.ErrorIsNil)

	got, err := s.api.CoreV1().ConfigMaps("tideway").Get(ctx, "tideway-config", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	// Strategic merge: untouched keys survive.
	c.Assert(got.Data["log-level"], gc.Equals, "debug")
	c.Assert(got.Data["retention"], gc.Equals, "7d")
}

func (s *resourceSuite) TestGetAbsent(c *gc.C) {
	cm := resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "absent", nil)
	err := cm.Get(context.Background())
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *resourceSuite) TestDeleteAbsentIsNoError(c *gc.C) {
	cm := resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "absent", nil)
	c.Assert(cm.Delete(context.Background()), jc.ErrorIsNil)
}

func (s *resourceSuite) TestStatefulSetImmutableConflict(c *gc.C) {
	s.api.PrependReactor("patch", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8serrors.NewInvalid(
			schema.GroupKind{Group: "apps", Kind: "StatefulSet"},
			"tideway-server",
			field.ErrorList{field.Forbidden(field.NewPath("spec", "selector"), "field is immutable")},
		)
	})
	set := resources.NewStatefulSet(s.api.AppsV1().StatefulSets("tideway"), "tideway", "tideway-server", nil)
	err := set.Apply(context.Background())
	c.Assert(err, jc.ErrorIs, resources.ErrImmutable)
}

func (s *resourceSuite) TestStatefulSetConflict(c *gc.C) {
	s.api.PrependReactor("patch", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, k8serrors.NewConflict(
			schema.GroupResource{Group: "apps", Resource: "statefulsets"},
			"tideway-server", errors.New("object was modified"))
	})
	set := resources.NewStatefulSet(s.api.AppsV1().StatefulSets("tideway"), "tideway", "tideway-server", nil)
	err := set.Apply(context.Background())
	c.Assert(err, jc.ErrorIs, resources.ErrConflict)
}

func (s *resourceSuite) TestStatefulSetDeleteOrphan(c *gc.C) {
	ctx := context.Background()
	_, err := s.api.AppsV1().StatefulSets("tideway").Create(ctx, &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-server", Namespace: "tideway"},
	}, metav1.CreateOptions{})
	c.Assert(err, jc.ErrorIsNil)

	var propagation *metav1.DeletionPropagation
	s.api.PrependReactor("delete", "statefulsets", func(action k8stesting.Action) (bool, runtime.Object, error) {
		propagation = action.(k8stesting.DeleteAction).GetDeleteOptions().PropagationPolicy
		return false, nil, nil
	})
	set := resources.NewStatefulSet(s.api.AppsV1().StatefulSets("tideway"), "tideway", "tideway-server", nil)
	c.Assert(set.DeleteOrphan(ctx), jc.ErrorIsNil)
	c.Assert(propagation, gc.NotNil)
	c.Assert(*propagation, gc.Equals, metav1.DeletePropagationOrphan)
}

func (s *resourceSuite) TestApplierRunsInOrder(c *gc.C) {
	ctx := context.Background()
	applier := resources.NewApplier()
	applier.Apply(
		resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "first", nil),
		resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "second", nil),
	)
	c.Assert(applier.Run(ctx), jc.ErrorIsNil)

	list, err := s.api.CoreV1().ConfigMaps("tideway").List(ctx, metav1.ListOptions{})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(list.Items, gc.HasLen, 2)
}

func (s *resourceSuite) TestApplierHaltsOnFirstErrorWithoutRollback(c *gc.C) {
	ctx := context.Background()
	calls := 0
	s.api.PrependReactor("patch", "configmaps", func(action k8stesting.Action) (bool, runtime.Object, error) {
		calls++
		if calls == 2 {
			return true, nil, k8serrors.NewConflict(
				schema.GroupResource{Resource: "configmaps"}, "second", errors.New("boom"))
		}
		return false, nil, nil
	})
	applier := resources.NewApplier()
	applier.Apply(
		resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "first", nil),
		resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "second", nil),
		resources.NewConfigMap(s.api.CoreV1().ConfigMaps("tideway"), "tideway", "third", nil),
	)
	err := applier.Run(ctx)
	c.Assert(err, jc.ErrorIs, resources.ErrConflict)

	// The first resource stays applied, the third is never attempted.
	_, err = s.api.CoreV1().ConfigMaps("tideway").Get(ctx, "first", metav1.GetOptions{})
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.api.CoreV1().ConfigMaps("tideway").Get(ctx, "third", metav1.GetOptions{})
	c.Assert(k8serrors.IsNotFound(err), jc.IsTrue)
}
