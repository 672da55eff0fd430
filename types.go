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

package loam

import (
	"fmt"

	"github.com/loamlang/loam/internal/heap"
	"github.com/loamlang/loam/internal/registry"
)

// Field declares one field of a user-defined type.
type Field struct {
	// Name is the field's name.
	Name string
	// TypeName is the field's declared type; self-references mark the
	// type recursive.
	TypeName string
	// Scannable marks fields that hold object references. Non-scannable
	// fields are raw payload and are never traced.
	Scannable bool
}

// RegisterType adds a user-defined type to the process-wide registry.
//
// Registration must complete before the first allocation; the registry is
// sealed and immutable afterward. Field strengths are computed at seal
// time: scannable fields start strong, and a field edge that closes a
// cycle in the ownership graph is demoted to weak, except a type's first
// direct self-edge, which stays strong as its recursive spine.
func (c *Core) RegisterType(name string, fields []Field) (Tag, error) {
	rfields := make([]registry.Field, len(fields))
	for i, f := range fields {
		rfields[i] = registry.Field{Name: f.Name, TypeName: f.TypeName, Scannable: f.Scannable}
	}

	t, err := c.reg.Register(name, rfields)
	if err != nil {
		return 0, err
	}
	return heap.UserTag(t.Tag), nil
}

// TagOf returns the tag for a registered type name.
func (c *Core) TagOf(name string) (Tag, error) {
	t := c.reg.Lookup(name)
	if t == nil {
		return 0, fmt.Errorf("loam: unregistered type %q", name)
	}
	return heap.UserTag(t.Tag), nil
}

// FieldStrength reports whether a registered type's i'th field survived
// seal as strong, was demoted to weak, or is untraced payload.
func (c *Core) FieldStrength(name string, i int) (string, error) {
	c.seal()
	t := c.reg.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("loam: unregistered type %q", name)
	}
	if i < 0 || i >= len(t.Fields) {
		return "", fmt.Errorf("loam: %s has no field %d", name, i)
	}
	return t.Fields[i].Strength.String(), nil
}
