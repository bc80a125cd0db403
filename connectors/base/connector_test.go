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

package base

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectorError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ConnectorError
		wantMsg string
	}{
		{
			name: "with cause",
			err: &ConnectorError{
				ConnectorName: "orders",
				Operation:     "Store",
				Message:       "failed to invoke",
				Cause:         errors.New("connection reset"),
			},
			wantMsg: "orders.Store: failed to invoke (cause: connection reset)",
		},
		{
			name: "without cause",
			err: &ConnectorError{
				ConnectorName: "orders",
				Operation:     "Get",
				Message:       "cannot find the configuration",
			},
			wantMsg: "orders.Get: cannot find the configuration",
		},
		{
			name:    "empty fields",
			err:     &ConnectorError{Message: "error"},
			wantMsg: ".: error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestConnectorError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewConnectorError("orders", "Remove", "failed", cause)

	assert.Same(t, cause, err.Unwrap())
	assert.Nil(t, NewConnectorError("orders", "Remove", "failed", nil).Unwrap())
}

func TestConnectorError_ErrorsIsThroughKind(t *testing.T) {
	cause := fmt.Errorf("%w: %w", ErrOperationFailed, errors.New("READONLY"))
	err := NewConnectorError("orders", "Store", "failed to invoke", cause)

	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Contains(t, err.Error(), "READONLY")
}
