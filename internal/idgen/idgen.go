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

// Package idgen generates the opaque correlation identifiers the host
// attaches to requests it sends to plugins. IDs only need to be
// collision-free within the lifetime of one plugin handle; a random UUID
// comfortably satisfies that without a shared counter.
package idgen

import "github.com/google/uuid"

// New returns a fresh, opaque request id.
func New() string {
	return uuid.NewString()
}
