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

// Package fspath implements small utility routines for manipulating
// filesystem paths through the [Path] type, used throughout conclave for
// manifest directories, executable resolution, and data directories.
package fspath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// A Path is a file system path.
type Path string

// New joins elem using [filepath.Join] and cleans the result.
func New(elem ...string) Path {
	return Path(filepath.Join(elem...))
}

// NewAbs joins elem and converts the result to an absolute path.
func NewAbs(elem ...string) (Path, error) {
	p, err := New(elem...).Abs()
	if err != nil {
		return "", fmt.Errorf("failed to create path: %w", err)
	}

	return p, nil
}

// Abs returns an absolute representation of p, expanding a leading "~" to the
// current user's home directory and environment variable references first.
func (p Path) Abs() (Path, error) {
	p = p.ExpandEnv()

	p, err := p.ExpandUser()
	if err != nil {
		return "", fmt.Errorf("failed to expand user home directory: %w", err)
	}

	abs, err := filepath.Abs(string(p))
	if err != nil {
		return "", fmt.Errorf("%w", err)
	}

	return Path(abs), nil
}

// Base returns the last element of p.
func (p Path) Base() Path {
	return Path(filepath.Base(string(p)))
}

// Clean returns the shortest path name equivalent to p.
func (p Path) Clean() Path {
	return Path(filepath.Clean(string(p)))
}

// Dir returns all but the last element of p.
func (p Path) Dir() Path {
	return Path(filepath.Dir(string(p)))
}

// ExpandEnv replaces ${var} or $var references with the values of the
// current environment variables.
func (p Path) ExpandEnv() Path {
	return Path(os.ExpandEnv(string(p)))
}

// ExpandUser replaces a leading "~" in p with the current user's home
// directory. Usernames other than the current user ("~other") are not
// supported, since conclave manifests and config never reference another
// user's home directory.
func (p Path) ExpandUser() (Path, error) {
	if p != "~" && !strings.HasPrefix(string(p), "~/") {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get the user home directory: %w", err)
	}

	if p == "~" {
		return Path(home), nil
	}

	return New(home, string(p[2:])), nil
}

// IsAbs reports whether p is an absolute path.
func (p Path) IsAbs() bool {
	return filepath.IsAbs(string(p))
}

// HasDirSeparator reports whether p contains an OS path separator, used to
// distinguish a bare executable name from an explicit path fragment.
func (p Path) HasDirSeparator() bool {
	return strings.ContainsRune(string(p), os.PathSeparator) || strings.ContainsRune(string(p), '/')
}

// IsFile reports whether p exists and is a regular file.
func (p Path) IsFile() (bool, error) {
	info, err := os.Stat(string(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("%w", err)
	}

	return !info.IsDir(), nil
}

// IsDir reports whether p exists and is a directory.
func (p Path) IsDir() (bool, error) {
	info, err := os.Stat(string(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("%w", err)
	}

	return info.IsDir(), nil
}

// Join joins p with the given elements and cleans the result.
func (p Path) Join(elem ...string) Path {
	all := make([]string, len(elem)+1)
	all[0] = string(p)
	copy(all[1:], elem)

	return Path(filepath.Join(all...))
}

// MkdirAll creates directory p, along with any necessary parents.
func (p Path) MkdirAll(perm os.FileMode) error {
	if err := os.MkdirAll(string(p), perm); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", p, err)
	}

	return nil
}

// OpenFile opens the file at p with the given flags and permissions, as
// [os.OpenFile] does.
func (p Path) OpenFile(flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(string(p), flag, perm) // #nosec G304 -- path comes from the host's own config
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	return f, nil
}

// ReadDir reads the named directory, returning its entries sorted by name.
func (p Path) ReadDir() ([]os.DirEntry, error) {
	list, err := os.ReadDir(string(p))
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	return list, nil
}

// ReadFile reads the file at p.
func (p Path) ReadFile() ([]byte, error) {
	data, err := os.ReadFile(string(p)) // #nosec G304 -- path comes from discovery within configured dirs
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	return data, nil
}

// String returns p as a string and implements [fmt.Stringer].
func (p Path) String() string {
	return string(p)
}
