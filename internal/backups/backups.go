// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backups captures durable snapshots of the orchestrator-managed
// cluster state before any mutating phase runs, and restores them on
// rollback. A snapshot is one directory per transition attempt, named by
// target version and timestamp, holding one YAML dump per resource
// category plus a metadata file that is written, and fsynced, last. A
// snapshot without complete metadata is never restorable.
package backups

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/version/v2"
	"gopkg.in/yaml.v3"

	"github.com/juju/ratchet/internal/cluster"
	"github.com/juju/ratchet/internal/resources"
)

var logger = loggo.GetLogger("ratchet.backups")

// ErrBackup is returned for any capture or restore failure. Capture
// failures abort the transition before anything mutates.
const ErrBackup = errors.ConstError("backup operation failed")

// Category names one resource dump within a snapshot.
type Category string

const (
	CategoryConfig       Category = "config"
	CategoryAccessPolicy Category = "access-policy"
	CategoryWorkloads    Category = "workloads"
	CategorySecrets      Category = "secrets"
)

// Categories is the fixed capture order.
var Categories = []Category{
	CategoryConfig,
	CategoryAccessPolicy,
	CategoryWorkloads,
	CategorySecrets,
}

const (
	metadataFile = "metadata.yaml"
	timeFormat   = "20060102T150405Z"
	docSeparator = "\n---\n"
)

// Snapshot describes one captured backup. Immutable once Completed.
type Snapshot struct {
	// Source is the release the cluster ran when the snapshot was taken.
	Source version.Number
	// Target is the release the guarded transition was moving to.
	Target version.Number
	// StartedAt and FinishedAt bound the capture.
	StartedAt  time.Time
	FinishedAt time.Time
	// Completed is true only once every category dump and the metadata
	// have been durably written.
	Completed bool
	// Dir is the snapshot directory.
	Dir string
}

// Ref returns the stable reference recorded in transition records.
func (s *Snapshot) Ref() string {
	return filepath.Base(s.Dir)
}

type metadataDoc struct {
	Source     string   `yaml:"source"`
	Target     string   `yaml:"target"`
	StartedAt  string   `yaml:"started-at"`
	FinishedAt string   `yaml:"finished-at"`
	Completed  bool     `yaml:"completed"`
	Categories []string `yaml:"categories"`
}

// Manager captures, restores and prunes snapshots under a root directory.
type Manager struct {
	root   string
	client *cluster.Client
	clock  clock.Clock
}

// NewManager returns a Manager storing snapshots under root.
func NewManager(root string, client *cluster.Client, clk clock.Clock) *Manager {
	return &Manager{root: root, client: client, clock: clk}
}

// Capture snapshots every resource category. Failure at any point is
// fail-closed: the error wraps ErrBackup and no Completed metadata exists.
func (m *Manager) Capture(ctx context.Context, source, target version.Number) (*Snapshot, error) {
	started := m.clock.Now().UTC()
	dir := filepath.Join(m.root, target.String()+"-"+started.Format(timeFormat))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.WithType(errors.Annotate(err, "creating snapshot directory"), ErrBackup)
	}
	for _, cat := range Categories {
		data, err := m.dump(ctx, cat)
		if err != nil {
			return nil, errors.WithType(errors.Annotatef(err, "dumping %s", cat), ErrBackup)
		}
		if err := writeDurable(filepath.Join(dir, string(cat)+".yaml"), data); err != nil {
			return nil, errors.WithType(errors.Annotatef(err, "writing %s dump", cat), ErrBackup)
		}
	}
	snap := &Snapshot{
		Source:     source,
		Target:     target,
		StartedAt:  started,
		FinishedAt: m.clock.Now().UTC(),
		Completed:  true,
		Dir:        dir,
	}
	if err := m.writeMetadata(snap); err != nil {
		return nil, errors.WithType(errors.Trace(err), ErrBackup)
	}
	logger.Infof("captured snapshot %s (state %s, guarding transition to %s)", snap.Ref(), source, target)
	return snap, nil
}

func (m *Manager) writeMetadata(snap *Snapshot) error {
	doc := metadataDoc{
		Source:     snap.Source.String(),
		Target:     snap.Target.String(),
		StartedAt:  snap.StartedAt.Format(time.RFC3339),
		FinishedAt: snap.FinishedAt.Format(time.RFC3339),
		Completed:  snap.Completed,
	}
	for _, cat := range Categories {
		doc.Categories = append(doc.Categories, string(cat))
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Trace(err)
	}
	if err := writeDurable(filepath.Join(snap.Dir, metadataFile), data); err != nil {
		return errors.Annotate(err, "writing snapshot metadata")
	}
	return errors.Trace(syncDir(snap.Dir))
}

// Restore reapplies every resource captured in the snapshot, in the fixed
// category order. Only Completed snapshots may be restored.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	if !snap.Completed {
		return errors.WithType(errors.Errorf("snapshot %s is incomplete", snap.Ref()), ErrBackup)
	}
	applier := resources.NewApplier()
	for _, cat := range Categories {
		data, err := os.ReadFile(filepath.Join(snap.Dir, string(cat)+".yaml"))
		if err != nil {
			return errors.WithType(errors.Annotatef(err, "reading %s dump", cat), ErrBackup)
		}
		docs := splitDocs(data)
		resList, err := resources.FromDocs(m.client.API(), m.client.Namespace(), docs)
		if err != nil {
			return errors.WithType(errors.Annotatef(err, "decoding %s dump", cat), ErrBackup)
		}
		applier.Apply(resList...)
	}
	if err := applier.Run(ctx); err != nil {
		return errors.WithType(errors.Annotate(err, "reapplying snapshot"), ErrBackup)
	}
	logger.Infof("restored snapshot %s", snap.Ref())
	return nil
}

// List returns every Completed snapshot, oldest first. Incomplete snapshot
// directories are reported and skipped.
func (m *Manager) List() ([]*Snapshot, error) {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	var out []*Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, err := m.load(filepath.Join(m.root, e.Name()))
		if err != nil {
			logger.Warningf("skipping unreadable snapshot %q: %v", e.Name(), err)
			continue
		}
		if !snap.Completed {
			logger.Warningf("skipping incomplete snapshot %q", e.Name())
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Find returns the snapshot with the given ref.
func (m *Manager) Find(ref string) (*Snapshot, error) {
	snap, err := m.load(filepath.Join(m.root, ref))
	if err != nil {
		return nil, errors.NotFoundf("snapshot %q", ref)
	}
	return snap, nil
}

// Latest returns the most recent Completed snapshot whose captured state
// matches the given version, i.e. the one restoring that version.
func (m *Manager) Latest(source version.Number) (*Snapshot, error) {
	snaps, err := m.List()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].Source == source {
			return snaps[i], nil
		}
	}
	return nil, errors.NotFoundf("snapshot of version %q", source)
}

// Prune removes the oldest snapshots, keeping the newest keep of them,
// and reports how many were removed. Housekeeping only; pruning failures
// are not fatal to any transition.
func (m *Manager) Prune(keep int) (int, error) {
	snaps, err := m.List()
	if err != nil {
		return 0, errors.Trace(err)
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for i := 0; i < len(snaps)-keep; i++ {
		logger.Infof("pruning snapshot %s", snaps[i].Ref())
		if err := os.RemoveAll(snaps[i].Dir); err != nil {
			return removed, errors.Annotatef(err, "pruning %s", snaps[i].Ref())
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var doc metadataDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Trace(err)
	}
	snap := &Snapshot{Completed: doc.Completed, Dir: dir}
	if snap.Source, err = version.Parse(doc.Source); err != nil {
		return nil, errors.Trace(err)
	}
	if snap.Target, err = version.Parse(doc.Target); err != nil {
		return nil, errors.Trace(err)
	}
	if snap.StartedAt, err = time.Parse(time.RFC3339, doc.StartedAt); err != nil {
		return nil, errors.Trace(err)
	}
	if snap.FinishedAt, err = time.Parse(time.RFC3339, doc.FinishedAt); err != nil {
		return nil, errors.Trace(err)
	}
	return snap, nil
}

func writeDurable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(f.Sync())
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Trace(err)
	}
	defer d.Close()
	return errors.Trace(d.Sync())
}

func splitDocs(data []byte) [][]byte {
	var out [][]byte
	for _, doc := range bytes.Split(data, []byte(docSeparator)) {
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		out = append(out, doc)
	}
	return out
}
