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

// Message is the minimal message passed between processors.
type Message struct {
	Payload    Value
	Properties map[string]Value
	Variables  map[string]Value
}

// NewMessage creates a message carrying payload.
func NewMessage(payload Value) *Message {
	return &Message{
		Payload:    payload,
		Properties: make(map[string]Value),
		Variables:  make(map[string]Value),
	}
}

// SetProperty sets a message property.
func (m *Message) SetProperty(name string, v Value) {
	if m.Properties == nil {
		m.Properties = make(map[string]Value)
	}
	m.Properties[name] = v
}

// Property returns a message property.
func (m *Message) Property(name string) (Value, bool) {
	v, ok := m.Properties[name]
	return v, ok
}

// SetVariable sets a flow variable.
func (m *Message) SetVariable(name string, v Value) {
	if m.Variables == nil {
		m.Variables = make(map[string]Value)
	}
	m.Variables[name] = v
}

// Variable returns a flow variable.
func (m *Message) Variable(name string) (Value, bool) {
	v, ok := m.Variables[name]
	return v, ok
}
