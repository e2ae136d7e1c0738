// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package overlay

import "io/fs"

// ResolveFS exposes resolveFS for tests with a synthetic layer tree.
func ResolveFS(fsys fs.FS, ref string) ([]Doc, error) {
	return resolveFS(fsys, ref)
}
