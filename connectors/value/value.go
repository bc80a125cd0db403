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

// Package value models message data as a closed set of variants and
// converts it to the types store operations expect.
//
// A Value is Null, a Scalar (string, integer, float or boolean), a Sequence
// or a Mapping with string keys. Arguments are resolved by evaluating #[...]
// expressions against a Message and coercing the result to a Type.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind is the variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is an immutable tagged value. The zero Value is Null.
type Value struct {
	kind    Kind
	scalar  interface{} // string, int64, float64 or bool
	items   []Value
	entries map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string scalar.
func String(s string) Value { return Value{kind: KindScalar, scalar: s} }

// Int returns an integer scalar.
func Int(i int64) Value { return Value{kind: KindScalar, scalar: i} }

// Float returns a floating point scalar.
func Float(f float64) Value { return Value{kind: KindScalar, scalar: f} }

// Bool returns a boolean scalar.
func Bool(b bool) Value { return Value{kind: KindScalar, scalar: b} }

// Sequence returns an ordered sequence of values.
func Sequence(items ...Value) Value {
	return Value{kind: KindSequence, items: append([]Value{}, items...)}
}

// Mapping returns a mapping. The map is copied.
func Mapping(entries map[string]Value) Value {
	m := make(map[string]Value, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Value{kind: KindMapping, entries: m}
}

// FromGo converts decoded JSON and plain Go values. Unknown types become
// their fmt string form.
func FromGo(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromGo(item)
		}
		return Value{kind: KindSequence, items: items}
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return Value{kind: KindSequence, items: items}
	case map[string]interface{}:
		entries := make(map[string]Value, len(t))
		for k, item := range t {
			entries[k] = FromGo(item)
		}
		return Value{kind: KindMapping, entries: entries}
	case map[string]string:
		entries := make(map[string]Value, len(t))
		for k, item := range t {
			entries[k] = String(item)
		}
		return Value{kind: KindMapping, entries: entries}
	default:
		return String(fmt.Sprint(t))
	}
}

// ParseJSON decodes a JSON document into a Value.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Null(), err
	}
	return FromGo(raw), nil
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Scalar returns the scalar content, or nil for other variants.
func (v Value) Scalar() interface{} {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// Items returns the elements of a sequence.
func (v Value) Items() []Value {
	return v.items
}

// Entries returns the entries of a mapping.
func (v Value) Entries() map[string]Value {
	return v.entries
}

// Keys returns the mapping keys in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interface converts the value back to plain Go types.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindSequence:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(v.entries))
		for k, item := range v.entries {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// String renders the value as text: scalars in their natural form,
// sequences and mappings as JSON, null as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindScalar:
		return scalarString(v.scalar)
	default:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprint(v.Interface())
		}
		return string(data)
	}
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON document.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindScalar:
		return v.scalar == other.scalar
	case KindSequence:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	default:
		if len(v.entries) != len(other.entries) {
			return false
		}
		for k, item := range v.entries {
			o, ok := other.entries[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
}

func (v Value) describe() string {
	if v.kind == KindScalar {
		return fmt.Sprintf("%T %q", v.scalar, scalarString(v.scalar))
	}
	return v.kind.String()
}

func scalarString(s interface{}) string {
	switch t := s.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
