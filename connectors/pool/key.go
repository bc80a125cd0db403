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

package pool

import "github.com/ryan1234/mule-couchbase/shared/logger"

// ConnectionKey identifies the partition a connection belongs to.
//
// Equality and partitioning consider BucketName only. Two keys with the same
// bucket and different credentials share one partition, and a connection
// created for one of them may be handed to the other.
type ConnectionKey struct {
	BucketName string
	Credential string
}

// NewConnectionKey builds a key for the given bucket and credential.
func NewConnectionKey(bucketName, credential string) ConnectionKey {
	return ConnectionKey{BucketName: bucketName, Credential: credential}
}

// Equal reports whether both keys address the same partition.
func (k ConnectionKey) Equal(other ConnectionKey) bool {
	return k.BucketName == other.BucketName
}

// Partition returns the identity used to group connections.
func (k ConnectionKey) Partition() string {
	return k.BucketName
}

// String renders the key with the credential masked.
func (k ConnectionKey) String() string {
	return "bucket=" + k.BucketName + " credential=" + logger.Mask(k.Credential)
}
