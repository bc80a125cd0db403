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

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Setenv("INSTANCE_ID", "instance-123")

	l := New("pool")
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewWithLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "debug", level: "DEBUG", want: zapcore.DebugLevel},
		{name: "lower case", level: "warn", want: zapcore.WarnLevel},
		{name: "error", level: "ERROR", want: zapcore.ErrorLevel},
		{name: "invalid", level: "LOUD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewWithLevel("test", tt.level)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, l.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNewWithLevel_FromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")

	l, err := NewWithLevel("test", "")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNamed(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	Named(zap.New(core), "processor").Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "processor", logs.All()[0].ContextMap()["component"])
	assert.NotNil(t, Named(nil, "x"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "***", Mask("abcd"))
	assert.Equal(t, "s***t", Mask("secret"))
}
