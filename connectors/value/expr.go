// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrExpression is returned for expressions that cannot be parsed or evaluated.
var ErrExpression = errors.New("invalid expression")

const (
	exprOpen  = "#["
	exprClose = ']'
)

// IsExpression reports whether s is a single #[...] expression.
func IsExpression(s string) bool {
	if !strings.HasPrefix(s, exprOpen) {
		return false
	}
	end, ok := closingBracket(s, len(exprOpen))
	return ok && end == len(s)-1
}

// Evaluate resolves raw against msg. A string that is exactly one #[expr]
// yields the expression's value. A string containing #[expr] parts yields
// a string with each part replaced by its text form. Any other string is
// returned as is.
func Evaluate(raw string, msg *Message) (Value, error) {
	if IsExpression(raw) {
		return evalExpr(raw[len(exprOpen):len(raw)-1], msg)
	}
	if !strings.Contains(raw, exprOpen) {
		return String(raw), nil
	}

	var b strings.Builder
	rest := raw
	for {
		start := strings.Index(rest, exprOpen)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		end, ok := closingBracket(rest, start+len(exprOpen))
		if !ok {
			return Null(), fmt.Errorf("%w: unterminated %q", ErrExpression, rest[start:])
		}
		v, err := evalExpr(rest[start+len(exprOpen):end], msg)
		if err != nil {
			return Null(), err
		}
		b.WriteString(v.String())
		rest = rest[end+1:]
	}
	return String(b.String()), nil
}

// Resolve evaluates every string inside raw, walking sequences and
// mappings, then coerces the result to t.
func Resolve(raw Value, msg *Message, t Type) (Value, error) {
	evaluated, err := evaluateTree(raw, msg)
	if err != nil {
		return Null(), err
	}
	return Coerce(evaluated, t)
}

func evaluateTree(raw Value, msg *Message) (Value, error) {
	switch raw.kind {
	case KindScalar:
		if s, ok := raw.scalar.(string); ok {
			return Evaluate(s, msg)
		}
		return raw, nil
	case KindSequence:
		items := make([]Value, len(raw.items))
		for i, item := range raw.items {
			v, err := evaluateTree(item, msg)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return Value{kind: KindSequence, items: items}, nil
	case KindMapping:
		entries := make(map[string]Value, len(raw.entries))
		for k, item := range raw.entries {
			v, err := evaluateTree(item, msg)
			if err != nil {
				return Null(), err
			}
			entries[k] = v
		}
		return Value{kind: KindMapping, entries: entries}, nil
	default:
		return raw, nil
	}
}

// closingBracket finds the bracket closing an expression whose body starts
// at from. Brackets inside quotes are ignored.
func closingBracket(s string, from int) (int, bool) {
	depth := 1
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == exprClose:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func evalExpr(expr string, msg *Message) (Value, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Null(), fmt.Errorf("%w: empty expression", ErrExpression)
	}

	if lit, ok := literal(expr); ok {
		return lit, nil
	}

	p := &pathParser{src: expr}
	root := p.identifier()
	var current Value
	switch root {
	case "payload":
		current = msg.Payload
	case "flowVars":
		current = Value{kind: KindMapping, entries: msg.Variables}
	case "properties":
		current = Value{kind: KindMapping, entries: msg.Properties}
	case "":
		return Null(), fmt.Errorf("%w: %q", ErrExpression, expr)
	default:
		return Null(), fmt.Errorf("%w: unknown root %q in %q", ErrExpression, root, expr)
	}

	for !p.done() {
		sel, err := p.selector()
		if err != nil {
			return Null(), fmt.Errorf("%w: %v in %q", ErrExpression, err, expr)
		}
		current, err = sel.apply(current)
		if err != nil {
			return Null(), fmt.Errorf("%w: %v in %q", ErrExpression, err, expr)
		}
	}
	return current, nil
}

func literal(expr string) (Value, bool) {
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0] {
		return String(expr[1 : len(expr)-1]), true
	}
	switch expr {
	case "null":
		return Null(), true
	case "true":
		return Bool(true), true
	case "false":
		return Bool(false), true
	}
	if i, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return Int(i), true
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return Float(f), true
	}
	return Null(), false
}

type selector struct {
	field string
	index int
	byKey bool
}

func (s selector) apply(v Value) (Value, error) {
	switch v.kind {
	case KindNull:
		return Null(), nil
	case KindMapping:
		if !s.byKey {
			return Null(), fmt.Errorf("cannot index a mapping with [%d]", s.index)
		}
		return v.entries[s.field], nil
	case KindSequence:
		if s.byKey {
			return Null(), fmt.Errorf("cannot select %q from a sequence", s.field)
		}
		if s.index < 0 || s.index >= len(v.items) {
			return Null(), fmt.Errorf("index %d out of range", s.index)
		}
		return v.items[s.index], nil
	default:
		return Null(), fmt.Errorf("cannot select from a %s", v.describe())
	}
}

type pathParser struct {
	src string
	pos int
}

func (p *pathParser) done() bool {
	return p.pos >= len(p.src)
}

func (p *pathParser) identifier() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !(isDigit && p.pos > start) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *pathParser) selector() (selector, error) {
	switch p.src[p.pos] {
	case '.':
		p.pos++
		name := p.identifier()
		if name == "" {
			return selector{}, fmt.Errorf("expected a name at offset %d", p.pos)
		}
		return selector{field: name, byKey: true}, nil
	case '[':
		p.pos++
		if p.done() {
			return selector{}, errors.New("unterminated selector")
		}
		var sel selector
		if q := p.src[p.pos]; q == '\'' || q == '"' {
			end := strings.IndexByte(p.src[p.pos+1:], q)
			if end < 0 {
				return selector{}, errors.New("unterminated quoted name")
			}
			sel = selector{field: p.src[p.pos+1 : p.pos+1+end], byKey: true}
			p.pos += end + 2
		} else {
			end := strings.IndexByte(p.src[p.pos:], ']')
			if end < 0 {
				return selector{}, errors.New("unterminated index")
			}
			idx, err := strconv.Atoi(strings.TrimSpace(p.src[p.pos : p.pos+end]))
			if err != nil {
				return selector{}, fmt.Errorf("invalid index %q", p.src[p.pos:p.pos+end])
			}
			sel = selector{index: idx}
			p.pos += end
		}
		if p.done() || p.src[p.pos] != ']' {
			return selector{}, errors.New("expected ]")
		}
		p.pos++
		return sel, nil
	default:
		return selector{}, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
	}
}
