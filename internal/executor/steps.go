// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package executor

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/version/v2"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/resources"
)

// StepContext is what a migration step may touch while running.
type StepContext interface {
	// Client is the cluster facade.
	Client() *cluster.Client

	// Clock is the executor's clock.
	Clock() clock.Clock
}

// Step defines one idempotent pre-apply migration. Each step must complete
// and verify before the next step, or the main apply, may run.
type Step interface {
	// Description is a human readable description of what the step does.
	// It is also the step's identity in the release catalog.
	Description() string

	// Run executes the migration.
	Run(ctx context.Context, sc StepContext) error

	// Verify checks, independently of Run, that the migration took hold.
	Verify(ctx context.Context, sc StepContext) error
}

// Operation groups the migration steps introduced by one target release.
type Operation interface {
	// TargetVersion is the release the steps prepare the cluster for.
	TargetVersion() version.Number

	// Steps to perform before applying the release's resources.
	Steps() []Step
}

type migrationOp struct {
	targetVersion version.Number
	steps         []Step
}

// TargetVersion is defined on the Operation interface.
func (o migrationOp) TargetVersion() version.Number { return o.targetVersion }

// Steps is defined on the Operation interface.
func (o migrationOp) Steps() []Step { return o.steps }

// migrationStep is a default Step implementation.
type migrationStep struct {
	description string
	run         func(context.Context, StepContext) error
	verify      func(context.Context, StepContext) error
}

var _ Step = (*migrationStep)(nil)

// Description is defined on the Step interface.
func (s *migrationStep) Description() string { return s.description }

// Run is defined on the Step interface.
func (s *migrationStep) Run(ctx context.Context, sc StepContext) error {
	return s.run(ctx, sc)
}

// Verify is defined on the Step interface.
func (s *migrationStep) Verify(ctx context.Context, sc StepContext) error {
	return s.verify(ctx, sc)
}

// migrationOperations returns every known migration, ordered by target
// release.
func migrationOperations() []Operation {
	return []Operation{
		migrationOp{
			targetVersion: version.MustParse("2.13.1"),
			steps:         stepsFor2131(),
		},
		migrationOp{
			targetVersion: version.MustParse("3.0.0"),
			steps:         stepsFor300(),
		},
	}
}

// findStep locates a step by target version and catalog description.
func findStep(target version.Number, description string) (Step, error) {
	for _, op := range migrationOperations() {
		if op.TargetVersion() != target {
			continue
		}
		for _, step := range op.Steps() {
			if step.Description() == description {
				return step, nil
			}
		}
	}
	return nil, errors.NotFoundf("migration step %q for release %q", description, target)
}

// renamedConfigKeys maps the legacy camelCase configuration keys to their
// 2.13 kebab-case names.
var renamedConfigKeys = map[string]string{
	"logLevel":          "log-level",
	"snapshotInterval":  "snapshot-interval",
	"replicationFactor": "replication-factor",
}

func stepsFor2131() []Step {
	return []Step{
		&migrationStep{
			description: "normalize config keys",
			run: func(ctx context.Context, sc StepContext) error {
				api := sc.Client().API()
				ns := sc.Client().Namespace()
				cm, err := api.CoreV1().ConfigMaps(ns).Get(ctx, "tideway-config", metav1.GetOptions{})
				if err != nil {
					return errors.Trace(err)
				}
				changed := false
				for legacyKey, newKey := range renamedConfigKeys {
					if val, ok := cm.Data[legacyKey]; ok {
						if _, exists := cm.Data[newKey]; !exists {
							cm.Data[newKey] = val
						}
						delete(cm.Data, legacyKey)
						changed = true
					}
				}
				if !changed {
					return nil
				}
				_, err = api.CoreV1().ConfigMaps(ns).Update(ctx, cm, metav1.UpdateOptions{})
				return errors.Trace(err)
			},
			verify: func(ctx context.Context, sc StepContext) error {
				api := sc.Client().API()
				ns := sc.Client().Namespace()
				cm, err := api.CoreV1().ConfigMaps(ns).Get(ctx, "tideway-config", metav1.GetOptions{})
				if err != nil {
					return errors.Trace(err)
				}
				for legacyKey := range renamedConfigKeys {
					if _, ok := cm.Data[legacyKey]; ok {
						return errors.Errorf("legacy config key %q still present", legacyKey)
					}
				}
				return nil
			},
		},
	}
}

func stepsFor300() []Step {
	return []Step{
		&migrationStep{
			description: "split access policy roles",
			run:         runSplitAccessPolicy,
			verify:      verifySplitAccessPolicy,
		},
		&migrationStep{
			description: "stamp workload generation labels",
			run:         runStampGenerationLabels,
			verify:      verifyStampGenerationLabels,
		},
	}
}

// runSplitAccessPolicy replaces the single broad tideway-operator role with
// per-duty roles: tideway-admin keeps full access, tideway-auditor may only
// read audits. Existing operator subjects are rebound to tideway-admin so
// they keep their access across the split.
func runSplitAccessPolicy(ctx context.Context, sc StepContext) error {
	api := sc.Client().API()
	ns := sc.Client().Namespace()

	applier := resources.NewApplier()
	applier.Apply(resources.NewRole(api.RbacV1().Roles(ns), ns, "tideway-admin", &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{"app.kubernetes.io/part-of": "tideway"},
		},
		Rules: []rbacv1.PolicyRule{{
			APIGroups: []string{"tideway.io"},
			Resources: []string{"streams", "audits"},
			Verbs:     []string{"get", "list", "create", "update", "delete"},
		}},
	}))
	applier.Apply(resources.NewRole(api.RbacV1().Roles(ns), ns, "tideway-auditor", &rbacv1.Role{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{"app.kubernetes.io/part-of": "tideway"},
		},
		Rules: []rbacv1.PolicyRule{{
			APIGroups: []string{"tideway.io"},
			Resources: []string{"audits"},
			Verbs:     []string{"get", "list"},
		}},
	}))

	legacy, err := api.RbacV1().RoleBindings(ns).Get(ctx, "tideway-operator", metav1.GetOptions{})
	if err == nil {
		applier.Apply(resources.NewRoleBinding(api.RbacV1().RoleBindings(ns), ns, "tideway-admin", &rbacv1.RoleBinding{
			ObjectMeta: metav1.ObjectMeta{
				Labels: map[string]string{"app.kubernetes.io/part-of": "tideway"},
			},
			Subjects: legacy.Subjects,
			RoleRef: rbacv1.RoleRef{
				APIGroup: rbacv1.GroupName,
				Kind:     "Role",
				Name:     "tideway-admin",
			},
		}))
	}
	return errors.Trace(applier.Run(ctx))
}

func verifySplitAccessPolicy(ctx context.Context, sc StepContext) error {
	api := sc.Client().API()
	ns := sc.Client().Namespace()
	auditor, err := api.RbacV1().Roles(ns).Get(ctx, "tideway-auditor", metav1.GetOptions{})
	if err != nil {
		return errors.Annotate(err, "auditor role missing")
	}
	for _, rule := range auditor.Rules {
		for _, verb := range rule.Verbs {
			switch verb {
			case "get", "list":
			default:
				return errors.Errorf("auditor role grants %q, expected read-only", verb)
			}
		}
	}
	if _, err := api.RbacV1().Roles(ns).Get(ctx, "tideway-admin", metav1.GetOptions{}); err != nil {
		return errors.Annotate(err, "admin role missing")
	}
	return nil
}

// generationLabel marks workloads that have been through the 3.0 migration.
const (
	generationLabel = "tideway.io/generation"
	generationValue = "3"
)

func runStampGenerationLabels(ctx context.Context, sc StepContext) error {
	api := sc.Client().API()
	ns := sc.Client().Namespace()
	deps, err := api.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	for i := range deps.Items {
		d := deps.Items[i]
		if d.Labels[generationLabel] == generationValue {
			continue
		}
		if d.Labels == nil {
			d.Labels = map[string]string{}
		}
		d.Labels[generationLabel] = generationValue
		if _, err := api.AppsV1().Deployments(ns).Update(ctx, &d, metav1.UpdateOptions{}); err != nil {
			return errors.Trace(err)
		}
	}
	sets, err := api.AppsV1().StatefulSets(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	for i := range sets.Items {
		s := sets.Items[i]
		if s.Labels[generationLabel] == generationValue {
			continue
		}
		if s.Labels == nil {
			s.Labels = map[string]string{}
		}
		s.Labels[generationLabel] = generationValue
		if _, err := api.AppsV1().StatefulSets(ns).Update(ctx, &s, metav1.UpdateOptions{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func verifyStampGenerationLabels(ctx context.Context, sc StepContext) error {
	api := sc.Client().API()
	ns := sc.Client().Namespace()
	deps, err := api.AppsV1().Deployments(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	for _, d := range deps.Items {
		if d.Labels[generationLabel] != generationValue {
			return errors.Errorf("deployment %q not stamped", d.Name)
		}
	}
	sets, err := api.AppsV1().StatefulSets(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return errors.Trace(err)
	}
	for _, s := range sets.Items {
		if s.Labels[generationLabel] != generationValue {
			return errors.Errorf("statefulset %q not stamped", s.Name)
		}
	}
	return nil
}
