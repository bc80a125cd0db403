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

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Pooling defaults
const (
	DefaultMaxActive = 5
	DefaultMaxIdle   = 5
	DefaultMaxWait   = 4 * time.Second
)

// ExhaustedAction selects what Acquire does when a partition is at capacity.
type ExhaustedAction int

const (
	// ExhaustedGrow creates a connection beyond MaxActive.
	ExhaustedGrow ExhaustedAction = iota
	// ExhaustedWait blocks until a connection is released or destroyed, up to MaxWait.
	ExhaustedWait
	// ExhaustedFail returns ErrPoolExhausted immediately.
	ExhaustedFail
)

func (a ExhaustedAction) String() string {
	switch a {
	case ExhaustedGrow:
		return "WHEN_EXHAUSTED_GROW"
	case ExhaustedWait:
		return "WHEN_EXHAUSTED_WAIT"
	case ExhaustedFail:
		return "WHEN_EXHAUSTED_FAIL"
	default:
		return fmt.Sprintf("ExhaustedAction(%d)", int(a))
	}
}

// ParseExhaustedAction accepts WHEN_EXHAUSTED_GROW, WHEN_EXHAUSTED_WAIT and
// WHEN_EXHAUSTED_FAIL, with or without the prefix and in any case. BLOCK is
// accepted as an alias of WAIT.
func ParseExhaustedAction(s string) (ExhaustedAction, error) {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "WHEN_EXHAUSTED_")
	switch name {
	case "GROW":
		return ExhaustedGrow, nil
	case "WAIT", "BLOCK":
		return ExhaustedWait, nil
	case "FAIL":
		return ExhaustedFail, nil
	default:
		return ExhaustedGrow, fmt.Errorf("unknown exhausted action %q", s)
	}
}

// InitialisationPolicy selects how many idle connections are created up front.
type InitialisationPolicy int

const (
	InitialiseNone InitialisationPolicy = iota
	InitialiseOne
	InitialiseAll
)

func (p InitialisationPolicy) String() string {
	switch p {
	case InitialiseNone:
		return "INITIALISE_NONE"
	case InitialiseOne:
		return "INITIALISE_ONE"
	case InitialiseAll:
		return "INITIALISE_ALL"
	default:
		return fmt.Sprintf("InitialisationPolicy(%d)", int(p))
	}
}

// ParseInitialisationPolicy accepts INITIALISE_NONE, INITIALISE_ONE and
// INITIALISE_ALL, with or without the prefix and in any case.
func ParseInitialisationPolicy(s string) (InitialisationPolicy, error) {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "INITIALISE_")
	switch name {
	case "NONE":
		return InitialiseNone, nil
	case "ONE":
		return InitialiseOne, nil
	case "ALL":
		return InitialiseAll, nil
	default:
		return InitialiseOne, fmt.Errorf("unknown initialisation policy %q", s)
	}
}

// PoolingProfile configures a KeyedPool.
//
// A non-positive MaxActive and a negative MaxIdle mean no limit. A
// non-positive MaxWait makes ExhaustedWait wait until the caller's context
// ends.
type PoolingProfile struct {
	MaxActive            int                  `json:"max_active" yaml:"max_active"`
	MaxIdle              int                  `json:"max_idle" yaml:"max_idle"`
	MaxWait              time.Duration        `json:"max_wait" yaml:"max_wait"`
	ExhaustedAction      ExhaustedAction      `json:"exhausted_action" yaml:"exhausted_action"`
	InitialisationPolicy InitialisationPolicy `json:"initialisation_policy" yaml:"initialisation_policy"`

	// Idle eviction is off unless both are positive.
	EvictionInterval time.Duration `json:"eviction_interval" yaml:"eviction_interval"`
	MinEvictableIdle time.Duration `json:"min_evictable_idle" yaml:"min_evictable_idle"`
}

// DefaultPoolingProfile returns the profile used when none is configured.
func DefaultPoolingProfile() PoolingProfile {
	return PoolingProfile{
		MaxActive:            DefaultMaxActive,
		MaxIdle:              DefaultMaxIdle,
		MaxWait:              DefaultMaxWait,
		ExhaustedAction:      ExhaustedGrow,
		InitialisationPolicy: InitialiseOne,
	}
}

// Validate checks the enumerations of the profile.
func (p PoolingProfile) Validate() error {
	var errs []error
	if p.ExhaustedAction < ExhaustedGrow || p.ExhaustedAction > ExhaustedFail {
		errs = append(errs, fmt.Errorf("invalid exhausted action: %d", int(p.ExhaustedAction)))
	}
	if p.InitialisationPolicy < InitialiseNone || p.InitialisationPolicy > InitialiseAll {
		errs = append(errs, fmt.Errorf("invalid initialisation policy: %d", int(p.InitialisationPolicy)))
	}
	if p.EvictionInterval < 0 || p.MinEvictableIdle < 0 {
		errs = append(errs, errors.New("eviction settings must not be negative"))
	}
	return errors.Join(errs...)
}

// InitialIdle returns how many idle connections the initialisation policy asks for.
func (p PoolingProfile) InitialIdle() int {
	switch p.InitialisationPolicy {
	case InitialiseOne:
		return 1
	case InitialiseAll:
		n := p.maxIdle()
		if active := p.maxActive(); active < n {
			n = active
		}
		if n == math.MaxInt {
			return 1
		}
		return n
	default:
		return 0
	}
}

func (p PoolingProfile) maxActive() int {
	if p.MaxActive <= 0 {
		return math.MaxInt
	}
	return p.MaxActive
}

func (p PoolingProfile) maxIdle() int {
	if p.MaxIdle < 0 {
		return math.MaxInt
	}
	return p.MaxIdle
}

func (p PoolingProfile) evictionEnabled() bool {
	return p.EvictionInterval > 0 && p.MinEvictableIdle > 0
}
