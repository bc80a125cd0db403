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
	"math"
	"strconv"
	"strings"
)

// ErrNotConvertible is returned when a value cannot be coerced to a type.
var ErrNotConvertible = errors.New("value is not convertible")

type typeKind int

const (
	typeAny typeKind = iota
	typeString
	typeInt
	typeFloat
	typeBool
	typeSequence
	typeMapping
)

// Type describes the target of a coercion.
type Type struct {
	kind typeKind
	key  *Type
	elem *Type
}

// Target types
var (
	AnyType    = Type{kind: typeAny}
	StringType = Type{kind: typeString}
	IntType    = Type{kind: typeInt}
	FloatType  = Type{kind: typeFloat}
	BoolType   = Type{kind: typeBool}
)

// SequenceOf describes a sequence whose elements coerce to elem.
func SequenceOf(elem Type) Type {
	return Type{kind: typeSequence, elem: &elem}
}

// MappingOf describes a mapping whose keys coerce to key and values to elem.
func MappingOf(key, elem Type) Type {
	return Type{kind: typeMapping, key: &key, elem: &elem}
}

func (t Type) String() string {
	switch t.kind {
	case typeAny:
		return "any"
	case typeString:
		return "string"
	case typeInt:
		return "int"
	case typeFloat:
		return "float"
	case typeBool:
		return "bool"
	case typeSequence:
		return "list<" + t.elem.String() + ">"
	case typeMapping:
		return "map<" + t.key.String() + "," + t.elem.String() + ">"
	default:
		return fmt.Sprintf("Type(%d)", int(t.kind))
	}
}

// Coerce converts v to t.
//
// Null coerces to null for every type. Sequences and mappings coerce
// element-wise to sequence and mapping types and encode as JSON when the
// target is a string. Scalars convert with strconv rules; strings are
// trimmed before parsing numbers and booleans.
func Coerce(v Value, t Type) (Value, error) {
	if v.kind == KindNull || t.kind == typeAny {
		return v, nil
	}

	switch t.kind {
	case typeString:
		return String(v.String()), nil
	case typeInt, typeFloat, typeBool:
		if v.kind != KindScalar {
			return Null(), notConvertible(v, t)
		}
		return coerceScalar(v, t)
	case typeSequence:
		if v.kind != KindSequence {
			return Null(), notConvertible(v, t)
		}
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			c, err := Coerce(item, *t.elem)
			if err != nil {
				return Null(), fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = c
		}
		return Value{kind: KindSequence, items: items}, nil
	case typeMapping:
		if v.kind != KindMapping {
			return Null(), notConvertible(v, t)
		}
		entries := make(map[string]Value, len(v.entries))
		for k, item := range v.entries {
			ck, err := Coerce(String(k), *t.key)
			if err != nil {
				return Null(), fmt.Errorf("key %q: %w", k, err)
			}
			c, err := Coerce(item, *t.elem)
			if err != nil {
				return Null(), fmt.Errorf("entry %q: %w", k, err)
			}
			entries[ck.String()] = c
		}
		return Value{kind: KindMapping, entries: entries}, nil
	default:
		return Null(), notConvertible(v, t)
	}
}

func coerceScalar(v Value, t Type) (Value, error) {
	switch s := v.scalar.(type) {
	case string:
		text := strings.TrimSpace(s)
		switch t.kind {
		case typeInt:
			if i, err := strconv.ParseInt(text, 10, 64); err == nil {
				return Int(i), nil
			}
		case typeFloat:
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return Float(f), nil
			}
		case typeBool:
			if b, err := strconv.ParseBool(text); err == nil {
				return Bool(b), nil
			}
		}
	case int64:
		switch t.kind {
		case typeInt:
			return v, nil
		case typeFloat:
			return Float(float64(s)), nil
		}
	case float64:
		switch t.kind {
		case typeInt:
			if s == math.Trunc(s) && !math.IsInf(s, 0) && math.Abs(s) < math.MaxInt64 {
				return Int(int64(s)), nil
			}
		case typeFloat:
			return v, nil
		}
	case bool:
		if t.kind == typeBool {
			return v, nil
		}
	}
	return Null(), notConvertible(v, t)
}

func notConvertible(v Value, t Type) error {
	return fmt.Errorf("%w: %s to %s", ErrNotConvertible, v.describe(), t)
}
