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
	"fmt"

	"go.uber.org/zap"

	"github.com/ryan1234/mule-couchbase/connectors/value"
)

// Flow runs processors in order, feeding each the previous one's message.
type Flow struct {
	name       string
	processors []Processor
	logger     *zap.Logger
}

// NewFlow creates a flow.
func NewFlow(name string, logger *zap.Logger, processors ...Processor) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		name:       name,
		processors: processors,
		logger:     logger.With(zap.String("flow", name)),
	}
}

func (f *Flow) Name() string { return f.name }

// Processors returns the processors of the flow.
func (f *Flow) Processors() []Processor {
	return append([]Processor(nil), f.processors...)
}

// Process runs the flow. The first failing processor stops it.
func (f *Flow) Process(ctx context.Context, msg *value.Message) (*value.Message, error) {
	for i, p := range f.processors {
		out, err := p.Process(ctx, msg)
		if err != nil {
			f.logger.Error("Processor failed",
				zap.Int("step", i),
				zap.String("processor", p.Name()),
				zap.Error(err))
			return nil, fmt.Errorf("flow %s step %d (%s): %w", f.name, i, p.Name(), err)
		}
		msg = out
	}
	return msg, nil
}
