// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package catalog holds the static, ordered graph of tideway releases that
// ratchet knows how to install and upgrade between. The catalog is the only
// authority on which transitions are legal: releases are strictly ordered
// and no release may be skipped.
package catalog

import (
	_ "embed"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"gopkg.in/yaml.v3"
)

// ErrSequence is returned when a requested transition does not move between
// adjacent releases in the catalog.
const ErrSequence = errors.ConstError("non-sequential version transition")

//go:embed data/catalog.yaml
var catalogData []byte

// Component names a workload that a release runs, and whether the health
// gate must insist on it.
type Component struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Optional bool   `yaml:"optional,omitempty"`
}

// ReleaseNode describes one release in the upgrade chain. Nodes are
// immutable once the catalog is loaded.
type ReleaseNode struct {
	// Version identifies the release.
	Version version.Number
	// Ordinal is the position of the release in the chain, starting at 0.
	Ordinal int
	// Manifest keys the overlay directory holding the release's resources.
	Manifest string
	// MinKubeVersion is the minimum Kubernetes server version the release
	// supports. Zero means no constraint.
	MinKubeVersion version.Number
	// Migrations are the descriptions of the pre-apply migration steps
	// that must run, in order, before the release's resources are applied.
	Migrations []string
	// Components are the workloads the release runs.
	Components []Component
}

type releaseDoc struct {
	Version        string      `yaml:"version"`
	Manifest       string      `yaml:"manifest"`
	MinKubeVersion string      `yaml:"min-kube-version,omitempty"`
	Migrations     []string    `yaml:"migrations,omitempty"`
	Components     []Component `yaml:"components"`
}

type catalogDoc struct {
	Application string       `yaml:"application"`
	Releases    []releaseDoc `yaml:"releases"`
}

// Graph is the ordered release catalog.
type Graph struct {
	application string
	releases    []ReleaseNode
}

// Load parses and validates the embedded catalog.
func Load() (*Graph, error) {
	return parse(catalogData)
}

func parse(data []byte) (*Graph, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Annotate(err, "parsing release catalog")
	}
	if len(doc.Releases) == 0 {
		return nil, errors.New("release catalog is empty")
	}
	g := &Graph{application: doc.Application}
	var prev version.Number
	for i, rd := range doc.Releases {
		v, err := version.Parse(rd.Version)
		if err != nil {
			return nil, errors.Annotatef(err, "release %d", i)
		}
		if i > 0 && v.Compare(prev) <= 0 {
			return nil, errors.Errorf("release %q out of order after %q", v, prev)
		}
		node := ReleaseNode{
			Version:    v,
			Ordinal:    i,
			Manifest:   rd.Manifest,
			Migrations: rd.Migrations,
			Components: rd.Components,
		}
		if rd.MinKubeVersion != "" {
			if node.MinKubeVersion, err = version.Parse(rd.MinKubeVersion); err != nil {
				return nil, errors.Annotatef(err, "release %q min-kube-version", v)
			}
		}
		g.releases = append(g.releases, node)
		prev = v
	}
	return g, nil
}

// Application returns the name of the managed application.
func (g *Graph) Application() string {
	return g.application
}

// Versions returns every release version in order.
func (g *Graph) Versions() []version.Number {
	out := make([]version.Number, len(g.releases))
	for i, r := range g.releases {
		out[i] = r.Version
	}
	return out
}

// First returns the initial release, the one `ratchet install` deploys.
func (g *Graph) First() *ReleaseNode {
	node := g.releases[0]
	return &node
}

// Lookup returns the release node for v.
func (g *Graph) Lookup(v version.Number) (*ReleaseNode, error) {
	for _, r := range g.releases {
		if r.Version == v {
			node := r
			return &node, nil
		}
	}
	return nil, errors.NotFoundf("release %q", v)
}

// Next returns the immediate successor of v.
func (g *Graph) Next(v version.Number) (*ReleaseNode, error) {
	node, err := g.Lookup(v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if node.Ordinal == len(g.releases)-1 {
		return nil, errors.NotFoundf("release after %q", v)
	}
	next := g.releases[node.Ordinal+1]
	return &next, nil
}

// IsValidTransition reports whether from -> to moves between adjacent
// releases. A request for anything else fails with ErrSequence.
func (g *Graph) IsValidTransition(from, to version.Number) error {
	fromNode, err := g.Lookup(from)
	if err != nil {
		return errors.Trace(err)
	}
	toNode, err := g.Lookup(to)
	if err != nil {
		return errors.Trace(err)
	}
	if toNode.Ordinal != fromNode.Ordinal+1 {
		return errors.Annotatef(ErrSequence, "%q -> %q", from, to)
	}
	return nil
}
