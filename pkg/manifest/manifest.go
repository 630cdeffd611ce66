// Copyright 2025 The Conclave Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package manifest discovers and parses conclave plugin manifests. A
// manifest is immutable for the lifetime of the plugin it describes; this
// package only deals with finding and decoding it, never with running the
// plugin.
package manifest

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/anttikivi/semver"
	"github.com/pelletier/go-toml/v2"

	"github.com/conclave-project/conclave/internal/fspath"
)

const manifestFileName = "plugin.toml"

// Errors returned by this package.
var (
	ErrDuplicateID = errors.New("manifest: duplicate plugin id")
	errInvalid     = errors.New("manifest: invalid manifest")
)

// A Manifest is the immutable, per-plugin configuration parsed from a
// plugin.toml file.
type Manifest struct {
	ID          string   `toml:"id"`
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	APIVersion  string   `toml:"api_version"`
	Exec        string   `toml:"exec"`
	Permissions []string `toml:"permissions"`
}

// validate reports whether m has every field required by spec, and that its
// version fields are at least loosely well-formed semantic versions.
func (m *Manifest) validate(path fspath.Path) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: %q missing id", errInvalid, path)
	case m.Name == "":
		return fmt.Errorf("%w: %q missing name", errInvalid, path)
	case m.Exec == "":
		return fmt.Errorf("%w: %q missing exec", errInvalid, path)
	case m.APIVersion == "":
		return fmt.Errorf("%w: %q missing api_version", errInvalid, path)
	}

	if _, err := semver.ParseLax(m.Version); err != nil {
		return fmt.Errorf("%w: %q has invalid version %q: %s", errInvalid, path, m.Version, err)
	}

	if _, err := semver.ParseLax(m.APIVersion); err != nil {
		return fmt.Errorf("%w: %q has invalid api_version %q: %s", errInvalid, path, m.APIVersion, err)
	}

	return nil
}

// A ParseError records the failure to admit one plugin's manifest during
// discovery. Discovery collects these rather than aborting, per spec:
// a manifest parse failure is fatal only for that plugin's admission.
type ParseError struct {
	Dir fspath.Path
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("plugin at %q: %v", e.Dir, e.Err)
}

// Unwrap supports errors.Is/errors.As against the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseErrors collects every ParseError encountered during discovery.
type ParseErrors []*ParseError

// Error implements the error interface.
func (e ParseErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%d plugin manifests failed to load:", len(e))

	for _, pe := range e {
		b.WriteString("\n  - ")
		b.WriteString(pe.Error())
	}

	return b.String()
}

// A Discovered manifest pairs a parsed Manifest with the directory it was
// found in and the resolved path to its executable.
type Discovered struct {
	Manifest Manifest
	Dir      fspath.Path
	Exec     fspath.Path
}

// Discover walks the immediate subdirectories of pluginsDir, parses a
// plugin.toml from each, and resolves its executable. A missing pluginsDir
// is not an error; it yields no discoveries. Manifests that fail to parse or
// validate are collected into a non-nil ParseErrors and skipped; every
// manifest that did parse is still returned. Duplicate ids are rejected.
func Discover(workspaceRoot, pluginsDir fspath.Path) ([]Discovered, error) {
	ok, err := pluginsDir.IsDir()
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	entries, err := pluginsDir.ReadDir()
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory %q: %w", pluginsDir, err)
	}

	var (
		found  []Discovered
		errs   ParseErrors
		seenID = map[string]fspath.Path{}
	)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := pluginsDir.Join(entry.Name())

		d, err := readOne(workspaceRoot, dir)
		if err != nil {
			errs = append(errs, &ParseError{Dir: dir, Err: err})

			continue
		}

		if prev, ok := seenID[d.Manifest.ID]; ok {
			errs = append(errs, &ParseError{
				Dir: dir,
				Err: fmt.Errorf("%w: %q already used by %q", ErrDuplicateID, d.Manifest.ID, prev),
			})

			continue
		}

		seenID[d.Manifest.ID] = dir
		found = append(found, d)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Manifest.ID < found[j].Manifest.ID })

	if len(errs) > 0 {
		return found, errs
	}

	return found, nil
}

func readOne(workspaceRoot, dir fspath.Path) (Discovered, error) {
	manifestPath := dir.Join(manifestFileName)

	data, err := manifestPath.ReadFile()
	if err != nil {
		return Discovered{}, fmt.Errorf("failed to read %q: %w", manifestPath, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Discovered{}, fmt.Errorf("failed to parse %q: %w", manifestPath, err)
	}

	if err := m.validate(manifestPath); err != nil {
		return Discovered{}, err
	}

	exec, err := ResolveExec(workspaceRoot, dir, m.Exec)
	if err != nil {
		return Discovered{}, err
	}

	return Discovered{Manifest: m, Dir: dir, Exec: exec}, nil
}

// ResolveExec resolves a manifest's exec field to a concrete path. If exec is
// absolute or contains a path separator, it is interpreted relative to dir.
// Otherwise it is treated as a built-artifact name and searched for, in
// order, under workspaceRoot/dist and workspaceRoot/../_deps, accepting the
// first entry whose file name has exec as a prefix. On Windows, ".exe" is
// appended to the search name.
func ResolveExec(workspaceRoot, dir fspath.Path, exec string) (fspath.Path, error) {
	p := fspath.Path(exec)

	if p.IsAbs() || p.HasDirSeparator() {
		return dir.Join(exec).Clean(), nil
	}

	name := exec
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	for _, searchDir := range []fspath.Path{
		workspaceRoot.Join("dist"),
		workspaceRoot.Dir().Join("_deps"),
	} {
		if found, ok := searchPrefix(searchDir, name); ok {
			return found, nil
		}
	}

	return "", fmt.Errorf("%w: could not resolve executable %q for plugin in %q", errInvalid, exec, dir)
}

func searchPrefix(dir fspath.Path, prefix string) (fspath.Path, bool) {
	entries, err := dir.ReadDir()
	if err != nil {
		return "", false
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			return dir.Join(entry.Name()), true
		}
	}

	return "", false
}
