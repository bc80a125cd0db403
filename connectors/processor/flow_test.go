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

package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryan1234/mule-couchbase/connectors/kvconnector"
	"github.com/ryan1234/mule-couchbase/connectors/kvstore/kvstoretest"
	"github.com/ryan1234/mule-couchbase/connectors/value"
)

type funcProcessor struct {
	name string
	fn   func(msg *value.Message) (*value.Message, error)
}

func (p funcProcessor) Name() string { return p.name }

func (p funcProcessor) Process(_ context.Context, msg *value.Message) (*value.Message, error) {
	return p.fn(msg)
}

func TestFlow_StoreThenGet(t *testing.T) {
	store := kvstoretest.NewMockStore()
	m := newMockManager(t, store, kvconnector.Config{BucketName: "orders", Password: "pw"})
	resolver := staticResolver{"kv": m}

	flow := NewFlow("copy", zaptest.NewLogger(t),
		NewStoreProcessor(resolver, StoreArgs{Args: NewArgs("kv", "#[flowVars.id]"), Value: value.String("#[payload]")}, fast()),
		funcProcessor{name: "clear", fn: func(msg *value.Message) (*value.Message, error) {
			msg.Payload = value.Null()
			return msg, nil
		}},
		NewGetProcessor(resolver, NewArgs("kv", "#[flowVars.id]"), fast()),
	)
	assert.Equal(t, "copy", flow.Name())
	assert.Len(t, flow.Processors(), 3)

	msg := value.NewMessage(value.String("hello"))
	msg.SetVariable("id", value.String("greeting"))
	out, err := flow.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, value.String("hello"), out.Payload)

	stored, ok := store.Value("orders", "greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", stored)
}

func TestFlow_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	flow := NewFlow("broken", nil,
		funcProcessor{name: "fail", fn: func(*value.Message) (*value.Message, error) { return nil, boom }},
		funcProcessor{name: "after", fn: func(msg *value.Message) (*value.Message, error) {
			ran = true
			return msg, nil
		}},
	)

	_, err := flow.Process(context.Background(), value.NewMessage(value.Null()))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "flow broken step 0 (fail): boom", err.Error())
	assert.False(t, ran)
}
