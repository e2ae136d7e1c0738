// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package postcheck_test

import (
	"context"

	jc "github.com/juju/testing/checkers"
	"github.com/juju/version/v2"
	gc "gopkg.in/check.v1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/juju/ratchet/core/validation"
	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/postcheck"
)

type postcheckSuite struct{}

var _ = gc.Suite(&postcheckSuite{})

func int32Ptr(i int32) *int32 { return &i }

func marker(v string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: cluster.VersionMarkerName, Namespace: "tideway"},
		Data:       map[string]string{"version": v},
	}
}

func healthyServer() *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-server", Namespace: "tideway"},
		Spec:       appsv1.StatefulSetSpec{Replicas: int32Ptr(3)},
		Status:     appsv1.StatefulSetStatus{ReadyReplicas: 3},
	}
}

func auditorRole(verbs ...string) *rbacv1.Role {
	return &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{Name: "tideway-auditor", Namespace: "tideway"},
		Rules: []rbacv1.PolicyRule{{
			APIGroups: []string{"tideway.io"},
			Resources: []string{"audits"},
			Verbs:     verbs,
		}},
	}
}

func newValidator(objs ...runtime.Object) *postcheck.Validator {
	api := fake.NewSimpleClientset(objs...)
	return postcheck.NewValidator(cluster.New(api, "tideway"))
}

func reportByCheck(c *gc.C, result *postcheck.Result, check string) *validation.Report {
	for i := range result.Reports {
		if result.Reports[i].Check == check {
			return &result.Reports[i]
		}
	}
	c.Fatalf("no report %q", check)
	return nil
}

func (s *postcheckSuite) TestPassPre30(c *gc.C) {
	validator := newValidator(marker("2.14.0"), healthyServer())
	result, err := validator.Run(context.Background(), version.MustParse("2.14.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsFalse)
}

func (s *postcheckSuite) TestVersionMismatchFails(c *gc.C) {
	validator := newValidator(marker("2.13.1"), healthyServer())
	result, err := validator.Run(context.Background(), version.MustParse("2.14.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsTrue)
}

func (s *postcheckSuite) TestUnhealthyWorkloadFails(c *gc.C) {
	stuck := healthyServer()
	stuck.Status.ReadyReplicas = 1
	validator := newValidator(marker("2.14.0"), stuck)
	result, err := validator.Run(context.Background(), version.MustParse("2.14.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsTrue)
	report := reportByCheck(c, result, "workload healthy: tideway-server")
	c.Assert(report.Passed, jc.IsFalse)
}

func (s *postcheckSuite) TestAccessPolicyInvariantPasses(c *gc.C) {
	validator := newValidator(marker("3.0.0"), healthyServer(), auditorRole("get", "list"))
	result, err := validator.Run(context.Background(), version.MustParse("3.0.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsFalse)

	c.Assert(reportByCheck(c, result, "auditor may read audits").Passed, jc.IsTrue)
	c.Assert(reportByCheck(c, result, "auditor may not delete audits").Passed, jc.IsTrue)
}

func (s *postcheckSuite) TestSkippedPolicyMigrationDetected(c *gc.C) {
	// The 3.0 workloads are up and the marker says 3.0.0, but the policy
	// migration never ran: the auditor role is absent and the read query
	// evaluates to deny.
	validator := newValidator(marker("3.0.0"), healthyServer())
	result, err := validator.Run(context.Background(), version.MustParse("3.0.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsTrue)

	read := reportByCheck(c, result, "auditor may read audits")
	c.Assert(read.Passed, jc.IsFalse)
	// Absence denies writes too, so the deny-side invariant still holds.
	c.Assert(reportByCheck(c, result, "auditor may not delete audits").Passed, jc.IsTrue)
}

func (s *postcheckSuite) TestOverbroadAuditorDetected(c *gc.C) {
	validator := newValidator(marker("3.0.0"), healthyServer(), auditorRole("get", "list", "delete"))
	result, err := validator.Run(context.Background(), version.MustParse("3.0.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsTrue)
	c.Assert(reportByCheck(c, result, "auditor may not delete audits").Passed, jc.IsFalse)
}

func (s *postcheckSuite) TestWildcardVerbDetected(c *gc.C) {
	validator := newValidator(marker("3.0.0"), healthyServer(), auditorRole("*"))
	result, err := validator.Run(context.Background(), version.MustParse("3.0.0"))
	c.Assert(err, jc.ErrorIsNil)
	// "*" allows reads but also deletes, failing the deny-side invariant.
	c.Assert(reportByCheck(c, result, "auditor may read audits").Passed, jc.IsTrue)
	c.Assert(reportByCheck(c, result, "auditor may not delete audits").Passed, jc.IsFalse)
}

func (s *postcheckSuite) TestRunReducedSkipsInvariants(c *gc.C) {
	// Post-rollback validation of a 3.0 cluster must not judge the release
	// invariants, only version and workload health.
	validator := newValidator(marker("3.0.0"), healthyServer())
	result, err := validator.RunReduced(context.Background(), version.MustParse("3.0.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsFalse)
	for _, r := range result.Reports {
		c.Assert(r.Check, gc.Not(gc.Matches), "auditor.*")
	}
}

func (s *postcheckSuite) TestMissingMarkerFails(c *gc.C) {
	validator := newValidator(healthyServer())
	result, err := validator.Run(context.Background(), version.MustParse("2.14.0"))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(result.Failed(), jc.IsTrue)
}
