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

/*
Package logger builds structured JSON loggers for connector components.

# Overview

Every component receives its logger explicitly. There is no process-wide
logger: callers create one with New and pass it down to pools, managers and
processors.

Each entry carries:
  - Timestamp (RFC3339Nano)
  - Level (debug, info, warn, error)
  - Component name (pool, kvconnector, processor, api, ...)
  - Instance ID and container name

# Usage

	log := logger.New("kvconnector")
	log.Info("connection acquired",
	    zap.String("bucket", key.BucketName),
	    zap.String("connection_id", conn.ID()))

Credentials must never be logged verbatim:

	log.Debug("acquiring connection", zap.String("password", logger.Mask(pw)))

# Environment Variables

  - INSTANCE_ID: deployment instance identifier
  - LOG_LEVEL: default level when NewWithLevel receives an empty string
*/
package logger
