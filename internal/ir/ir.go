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

// Package ir defines the expression tree the front end hands to the
// analysis pipeline, plus the node kinds the pipeline injects: explicit
// free, safe-point, tether, and region operations.
package ir

import "sync/atomic"

// Kind discriminates IR nodes.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindStr
	KindSym
	KindCall
	KindLet
	KindLambda
	KindIf
	KindBegin

	// Kinds injected by the analysis pipeline. The front end never
	// constructs these.
	KindFree
	KindSafePoint
	KindRegion
	KindTether
	KindUntether
	KindNote
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindSym:
		return "sym"
	case KindCall:
		return "call"
	case KindLet:
		return "let"
	case KindLambda:
		return "lambda"
	case KindIf:
		return "if"
	case KindBegin:
		return "begin"
	case KindFree:
		return "free"
	case KindSafePoint:
		return "safe-point"
	case KindRegion:
		return "region"
	case KindTether:
		return "tether"
	case KindUntether:
		return "untether"
	case KindNote:
		return "note"
	default:
		return "invalid"
	}
}

// Binding is one name/value pair of a let form.
type Binding struct {
	Name  string
	Value *Node
}

// Node is one IR expression.
//
// A node carries the payload fields its kind uses and ignores the rest:
//
//   - KindInt uses Int; KindFloat uses Float; KindStr and KindSym use Str.
//   - KindCall uses Str (the operator) and Kids (the arguments).
//   - KindLet uses Bindings, Body, and after annotation Pre and Clean.
//   - KindLambda uses Params and Body.
//   - KindIf uses Kids[0..2]; KindBegin uses Kids.
//   - KindFree uses Str (the binding) and Aux (the free function).
//   - KindRegion uses Str (the region label) and Body.
//   - KindTether and KindUntether use Str (the borrowed binding).
//   - KindNote uses Str (the binding) and Aux (the reason no free is
//     emitted).
type Node struct {
	Kind Kind

	// ID is a stable identity for usage records; it survives the deep copy
	// Annotate performs.
	ID uint32

	Int   int64
	Float float64
	Str   string
	Aux   string

	Params   []string
	Bindings []Binding
	Kids     []*Node
	Body     *Node

	// Pre and Clean are filled in by the injector on KindLet nodes. Pre
	// runs before the body; Clean runs at scope exit, on every exit path,
	// after the body's result is captured.
	Pre   []*Node
	Clean []*Node
}

var nextID atomic.Uint32

func newNode(k Kind) *Node {
	return &Node{Kind: k, ID: nextID.Add(1)}
}

// Nil returns a nil literal.
func Nil() *Node { return newNode(KindNil) }

// Int64 returns an integer literal.
func Int64(v int64) *Node {
	n := newNode(KindInt)
	n.Int = v
	return n
}

// Float64 returns a float literal.
func Float64(v float64) *Node {
	n := newNode(KindFloat)
	n.Float = v
	return n
}

// Str returns a string literal.
func Str(s string) *Node {
	n := newNode(KindStr)
	n.Str = s
	return n
}

// Sym returns a variable reference.
func Sym(name string) *Node {
	n := newNode(KindSym)
	n.Str = name
	return n
}

// Call returns an application of op to args.
func Call(op string, args ...*Node) *Node {
	n := newNode(KindCall)
	n.Str = op
	n.Kids = args
	return n
}

// Let returns a let form.
func Let(bindings []Binding, body *Node) *Node {
	n := newNode(KindLet)
	n.Bindings = bindings
	n.Body = body
	return n
}

// Let1 returns a single-binding let form.
func Let1(name string, value, body *Node) *Node {
	return Let([]Binding{{Name: name, Value: value}}, body)
}

// Lambda returns a lambda form.
func Lambda(params []string, body *Node) *Node {
	n := newNode(KindLambda)
	n.Params = params
	n.Body = body
	return n
}

// If returns a conditional.
func If(cond, then, els *Node) *Node {
	n := newNode(KindIf)
	n.Kids = []*Node{cond, then, els}
	return n
}

// Begin returns a sequence.
func Begin(exprs ...*Node) *Node {
	n := newNode(KindBegin)
	n.Kids = exprs
	return n
}

// Free returns an injected free operation for the named binding using the
// given free function.
func Free(name, fn string) *Node {
	n := newNode(KindFree)
	n.Str = name
	n.Aux = fn
	return n
}

// SafePoint returns an injected safe point.
func SafePoint() *Node { return newNode(KindSafePoint) }

// Region returns an injected region scope around body.
func Region(label string, body *Node) *Node {
	n := newNode(KindRegion)
	n.Str = label
	n.Body = body
	return n
}

// Tether returns an injected tether acquisition for a borrowed binding.
func Tether(name string) *Node {
	n := newNode(KindTether)
	n.Str = name
	return n
}

// Untether returns the matching release.
func Untether(name string) *Node {
	n := newNode(KindUntether)
	n.Str = name
	return n
}

// Note returns an injected annotation explaining why a binding is not
// freed.
func Note(name, reason string) *Node {
	n := newNode(KindNote)
	n.Str = name
	n.Aux = reason
	return n
}

// Walk calls fn on n and every node reachable from it, pre-order. fn
// returning false prunes the subtree.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, b := range n.Bindings {
		Walk(b.Value, fn)
	}
	for _, k := range n.Kids {
		Walk(k, fn)
	}
	for _, p := range n.Pre {
		Walk(p, fn)
	}
	Walk(n.Body, fn)
	for _, c := range n.Clean {
		Walk(c, fn)
	}
}
