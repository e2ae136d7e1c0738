// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package overlay resolves the layered declarative resource sets shipped
// with ratchet. Each release references an overlay directory; the resolved
// set is the base manifests with the release's strategic-merge patches
// applied, plus any release-only manifests, flattened into a deterministic
// apply order.
package overlay

import (
	"embed"
	"io/fs"
	"sort"

	"github.com/juju/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/strategicpatch"
	"sigs.k8s.io/yaml"
)

//go:embed data
var overlayData embed.FS

// Doc is one resolved single-resource manifest.
type Doc struct {
	// File is the manifest's file name within its layer.
	File string
	// Kind is the resource kind the manifest declares.
	Kind string
	// Data is the resolved manifest in YAML form.
	Data []byte
}

// kindOrder fixes the apply order: configuration and policy first, then
// services, then workloads.
var kindOrder = map[string]int{
	"ConfigMap":   0,
	"Secret":      1,
	"Role":        2,
	"RoleBinding": 3,
	"Service":     4,
	"StatefulSet": 5,
	"Deployment":  6,
}

// Resolve returns the flat resource list for the named overlay.
func Resolve(ref string) ([]Doc, error) {
	return resolveFS(overlayData, ref)
}

func resolveFS(fsys fs.FS, ref string) ([]Doc, error) {
	baseFiles, err := readLayer(fsys, "data/base")
	if err != nil {
		return nil, errors.Trace(err)
	}
	patchFiles, err := readLayer(fsys, "data/overlays/"+ref)
	if err != nil {
		return nil, errors.Annotatef(err, "overlay %q", ref)
	}

	var docs []Doc
	for name, base := range baseFiles {
		resolved := base
		if patch, ok := patchFiles[name]; ok {
			if resolved, err = mergePatch(base, patch); err != nil {
				return nil, errors.Annotatef(err, "patching %q for overlay %q", name, ref)
			}
			delete(patchFiles, name)
		}
		doc, err := newDoc(name, resolved)
		if err != nil {
			return nil, errors.Trace(err)
		}
		docs = append(docs, doc)
	}
	// Whatever remains in the overlay layer has no base counterpart and is
	// a complete manifest of its own.
	for name, data := range patchFiles {
		doc, err := newDoc(name, data)
		if err != nil {
			return nil, errors.Annotatef(err, "overlay %q", ref)
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if kindOrder[docs[i].Kind] != kindOrder[docs[j].Kind] {
			return kindOrder[docs[i].Kind] < kindOrder[docs[j].Kind]
		}
		return docs[i].File < docs[j].File
	})
	return docs, nil
}

func readLayer(fsys fs.FS, dir string) (map[string][]byte, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Annotatef(err, "reading layer %q", dir)
	}
	out := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, errors.Trace(err)
		}
		out[e.Name()] = data
	}
	return out, nil
}

func newDoc(name string, data []byte) (Doc, error) {
	var probe metav1.TypeMeta
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return Doc{}, errors.Annotatef(err, "manifest %q", name)
	}
	if probe.Kind == "" {
		return Doc{}, errors.NotValidf("manifest %q without kind", name)
	}
	return Doc{File: name, Kind: probe.Kind, Data: data}, nil
}

// mergePatch applies a strategic-merge patch to a base manifest. The patch
// semantics (notably list merge keys) come from the base manifest's Go type.
func mergePatch(base, patch []byte) ([]byte, error) {
	var probe metav1.TypeMeta
	if err := yaml.Unmarshal(base, &probe); err != nil {
		return nil, errors.Trace(err)
	}
	dataStruct, err := schemaFor(probe.Kind)
	if err != nil {
		return nil, errors.Trace(err)
	}
	baseJSON, err := yaml.YAMLToJSON(base)
	if err != nil {
		return nil, errors.Annotate(err, "base manifest")
	}
	patchJSON, err := yaml.YAMLToJSON(patch)
	if err != nil {
		return nil, errors.Annotate(err, "patch manifest")
	}
	mergedJSON, err := strategicpatch.StrategicMergePatch(baseJSON, patchJSON, dataStruct)
	if err != nil {
		return nil, errors.Trace(err)
	}
	merged, err := yaml.JSONToYAML(mergedJSON)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return merged, nil
}

func schemaFor(kind string) (interface{}, error) {
	switch kind {
	case "ConfigMap":
		return &corev1.ConfigMap{}, nil
	case "Secret":
		return &corev1.Secret{}, nil
	case "Service":
		return &corev1.Service{}, nil
	case "Deployment":
		return &appsv1.Deployment{}, nil
	case "StatefulSet":
		return &appsv1.StatefulSet{}, nil
	case "Role":
		return &rbacv1.Role{}, nil
	case "RoleBinding":
		return &rbacv1.RoleBinding{}, nil
	}
	return nil, errors.NotSupportedf("patching kind %q", kind)
}
