// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package postcheck

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	rbacv1 "k8s.io/api/rbac/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/juju/ratchet/core/validation"
)

var v300 = version.MustParse("3.0.0")

// runInvariants evaluates the transition-specific invariants for the target
// release. Each invariant is independent: all are evaluated and reported
// even when an earlier one fails.
func (v *Validator) runInvariants(ctx context.Context, target version.Number) ([]validation.Report, error) {
	if target.Compare(v300) < 0 {
		return nil, nil
	}
	return v.accessPolicyInvariants(ctx)
}

// accessPolicyInvariants asserts the 3.0 permission split took hold: the
// auditor role must be allowed to read audits and denied any write to them.
// Evaluation is local, over the policy rules the cluster returns; no access
// review round-trip is involved.
func (v *Validator) accessPolicyInvariants(ctx context.Context) ([]validation.Report, error) {
	api := v.client.API()
	ns := v.client.Namespace()
	role, err := api.RbacV1().Roles(ns).Get(ctx, "tideway-auditor", metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		// The policy migration never ran; every query evaluates to deny.
		role = nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}

	reports := []validation.Report{
		policyReport("auditor may read audits", role, "get", "audits", true),
		policyReport("auditor may not delete audits", role, "delete", "audits", false),
	}
	return reports, nil
}

func policyReport(check string, role *rbacv1.Role, verb, resource string, wantAllow bool) validation.Report {
	allowed := roleAllows(role, verb, resource)
	verdict := "deny"
	if allowed {
		verdict = "allow"
	}
	return validation.Report{
		Check:    check,
		Passed:   allowed == wantAllow,
		Detail:   fmt.Sprintf("%s %s evaluates to %s", verb, resource, verdict),
		Severity: validation.Critical,
	}
}

// roleAllows evaluates whether the role's rules permit verb on resource.
// A nil role denies everything.
func roleAllows(role *rbacv1.Role, verb, resource string) bool {
	if role == nil {
		return false
	}
	for _, rule := range role.Rules {
		if !matchWord(rule.Verbs, verb) {
			continue
		}
		if matchWord(rule.Resources, resource) {
			return true
		}
	}
	return false
}

func matchWord(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == rbacv1.VerbAll || h == needle {
			return true
		}
	}
	return false
}
