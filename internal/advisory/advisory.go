// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package advisory surfaces documented breaking changes for version
// transitions. Records are keyed by version ranges rather than literal
// version pairs, so a transition that spans more ground than the record's
// author anticipated still surfaces the applicable risk.
package advisory

import (
	_ "embed"
	"sort"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownRisk marks a version pair the advisory data says nothing about.
// An uncovered pair is never treated as zero-risk.
const ErrUnknownRisk = errors.ConstError("unknown breaking-change risk")

//go:embed data/advisories.yaml
var advisoryData []byte

// Impact grades how disruptive a breaking change is.
type Impact string

const (
	ImpactUnknown  Impact = "unknown"
	ImpactInfo     Impact = "info"
	ImpactWarning  Impact = "warning"
	ImpactCritical Impact = "critical"
)

// Blocking reports whether progression requires an explicit confirmation
// before the transition may start applying. Unknown risk blocks like
// critical risk does.
func (i Impact) Blocking() bool {
	return i == ImpactCritical || i == ImpactUnknown
}

// Record is one documented breaking change.
type Record struct {
	Title       string
	Impact      Impact
	Remediation string

	fromMin, fromMax version.Number
	toMin, toMax     version.Number
}

func (r Record) matches(from, to version.Number) bool {
	return from.Compare(r.fromMin) >= 0 && from.Compare(r.fromMax) <= 0 &&
		to.Compare(r.toMin) >= 0 && to.Compare(r.toMax) <= 0
}

type recordDoc struct {
	FromMin     string `yaml:"from-min"`
	FromMax     string `yaml:"from-max"`
	ToMin       string `yaml:"to-min"`
	ToMax       string `yaml:"to-max"`
	Title       string `yaml:"title"`
	Impact      string `yaml:"impact"`
	Remediation string `yaml:"remediation"`
}

type advisoryDoc struct {
	Advisories []recordDoc `yaml:"advisories"`
}

// Source answers breaking-change lookups for version pairs.
type Source struct {
	records []Record
	known   []version.Number
}

// Load parses the embedded advisory data. The known versions are used to
// distinguish "documented as safe" from "never heard of it".
func Load(known []version.Number) (*Source, error) {
	return parse(advisoryData, known)
}

func parse(data []byte, known []version.Number) (*Source, error) {
	var doc advisoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Annotate(err, "parsing advisory data")
	}
	src := &Source{known: known}
	for i, rd := range doc.Advisories {
		rec := Record{
			Title:       rd.Title,
			Remediation: rd.Remediation,
			Impact:      Impact(rd.Impact),
		}
		switch rec.Impact {
		case ImpactInfo, ImpactWarning, ImpactCritical:
		default:
			return nil, errors.NotValidf("advisory %d impact %q", i, rd.Impact)
		}
		var err error
		if rec.fromMin, err = version.Parse(rd.FromMin); err != nil {
			return nil, errors.Annotatef(err, "advisory %d from-min", i)
		}
		if rec.fromMax, err = version.Parse(rd.FromMax); err != nil {
			return nil, errors.Annotatef(err, "advisory %d from-max", i)
		}
		if rec.toMin, err = version.Parse(rd.ToMin); err != nil {
			return nil, errors.Annotatef(err, "advisory %d to-min", i)
		}
		if rec.toMax, err = version.Parse(rd.ToMax); err != nil {
			return nil, errors.Annotatef(err, "advisory %d to-max", i)
		}
		src.records = append(src.records, rec)
	}
	return src, nil
}

func (s *Source) knows(v version.Number) bool {
	for _, k := range s.known {
		if k == v {
			return true
		}
	}
	return false
}

// Lookup returns the breaking-change records applying to from -> to, most
// severe first. A pair involving a version the catalog does not know yields
// a single unknown-risk marker record instead of an empty result.
func (s *Source) Lookup(from, to version.Number) []Record {
	if !s.knows(from) || !s.knows(to) {
		return []Record{{
			Title:       "unrecognised version pair",
			Impact:      ImpactUnknown,
			Remediation: "consult the release notes for both versions before proceeding",
		}}
	}
	var out []Record
	for _, rec := range s.records {
		if rec.matches(from, to) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return impactRank(out[i].Impact) > impactRank(out[j].Impact)
	})
	return out
}

// HasBlocking reports whether any record for the pair requires explicit
// confirmation before applying.
func (s *Source) HasBlocking(from, to version.Number) bool {
	for _, rec := range s.Lookup(from, to) {
		if rec.Impact.Blocking() {
			return true
		}
	}
	return false
}

func impactRank(i Impact) int {
	switch i {
	case ImpactCritical:
		return 3
	case ImpactUnknown:
		return 2
	case ImpactWarning:
		return 1
	}
	return 0
}
