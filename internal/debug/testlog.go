// Copyright 2025 The Loam Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build debug

package debug

import (
	"testing"

	"github.com/timandy/routine"
)

// tls holds the testing.TB that debug logs on this goroutine should be
// captured into.
var tls = routine.NewThreadLocal[testing.TB]()

// WithTesting redirects this goroutine's debug logs into t until the
// returned closure is called.
func WithTesting(t testing.TB) func() {
	prev := tls.Get()
	tls.Set(t)
	return func() { tls.Set(prev) }
}
