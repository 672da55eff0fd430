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

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// String renders the node as an s-expression. Injected operations render
// with a leading % so annotated output stays readable.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("()")
		return
	}

	switch n.Kind {
	case KindNil:
		sb.WriteString("()")
	case KindInt:
		sb.WriteString(strconv.FormatInt(n.Int, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(n.Float, 'g', -1, 64))
	case KindStr:
		sb.WriteString(strconv.Quote(n.Str))
	case KindSym:
		sb.WriteString(n.Str)
	case KindCall:
		sb.WriteByte('(')
		sb.WriteString(n.Str)
		for _, k := range n.Kids {
			sb.WriteByte(' ')
			k.write(sb)
		}
		sb.WriteByte(')')
	case KindLet:
		sb.WriteString("(let (")
		for i, b := range n.Bindings {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte('(')
			sb.WriteString(b.Name)
			sb.WriteByte(' ')
			b.Value.write(sb)
			sb.WriteByte(')')
		}
		sb.WriteByte(')')
		for _, p := range n.Pre {
			sb.WriteByte(' ')
			p.write(sb)
		}
		sb.WriteByte(' ')
		n.Body.write(sb)
		for _, c := range n.Clean {
			sb.WriteByte(' ')
			c.write(sb)
		}
		sb.WriteByte(')')
	case KindLambda:
		sb.WriteString("(lambda (")
		sb.WriteString(strings.Join(n.Params, " "))
		sb.WriteString(") ")
		n.Body.write(sb)
		sb.WriteByte(')')
	case KindIf:
		sb.WriteString("(if")
		for _, k := range n.Kids {
			sb.WriteByte(' ')
			k.write(sb)
		}
		sb.WriteByte(')')
	case KindBegin:
		sb.WriteString("(begin")
		for _, k := range n.Kids {
			sb.WriteByte(' ')
			k.write(sb)
		}
		sb.WriteByte(')')
	case KindFree:
		fmt.Fprintf(sb, "(%%%s %s)", n.Aux, n.Str)
	case KindSafePoint:
		sb.WriteString("(%safe-point)")
	case KindRegion:
		fmt.Fprintf(sb, "(%%region %s ", n.Str)
		n.Body.write(sb)
		sb.WriteByte(')')
	case KindTether:
		fmt.Fprintf(sb, "(%%tether %s)", n.Str)
	case KindUntether:
		fmt.Fprintf(sb, "(%%untether %s)", n.Str)
	case KindNote:
		fmt.Fprintf(sb, "(%%note %s %q)", n.Str, n.Aux)
	default:
		sb.WriteString("#<invalid>")
	}
}
