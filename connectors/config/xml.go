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

package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// element is a generic XML element. Names are matched on their local part,
// so namespace prefixes do not matter.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []element  `xml:",any"`
}

// attr returns the trimmed value of an unqualified attribute, empty when
// absent or blank. Prefixed attributes such as doc:name are skipped.
func (e element) attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (e element) child(name string) (element, bool) {
	for _, c := range e.Children {
		if c.XMLName.Local == name {
			return c, true
		}
	}
	return element{}, false
}

// ParseXML parses a Mule style document. Top-level <config> elements define
// connectors and <flow> elements hold <get>, <store> and <remove>
// operations. Other elements are ignored.
func ParseXML(r io.Reader) (*File, error) {
	var root element
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	f := &File{Connectors: make(map[string]ConnectorFileConfig)}
	configs := 0
	for _, el := range root.Children {
		switch el.XMLName.Local {
		case "config":
			configs++
			name, c, err := parseConnectorElement(el, configs)
			if err != nil {
				return nil, err
			}
			if _, exists := f.Connectors[name]; exists {
				return nil, fmt.Errorf("duplicate config '%s'", name)
			}
			f.Connectors[name] = c
		case "flow":
			flow, err := parseFlowElement(el)
			if err != nil {
				return nil, err
			}
			f.Flows = append(f.Flows, flow)
		}
	}

	f.normalise()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func parseConnectorElement(el element, index int) (string, ConnectorFileConfig, error) {
	name := el.attr("name")
	if name == "" {
		name = fmt.Sprintf("kv-config-%d", index)
	}
	c := ConnectorFileConfig{
		URI:        el.attr("Uri"),
		BucketName: el.attr("bucketName"),
		Password:   el.attr("password"),
	}

	profile, ok := el.child("connection-pooling-profile")
	if !ok {
		return name, c, nil
	}
	p := &PoolingConfig{
		ExhaustedAction:      profile.attr("exhaustedAction"),
		InitialisationPolicy: profile.attr("initialisationPolicy"),
	}
	var err error
	if p.MaxActive, err = intAttr(profile, "maxActive"); err != nil {
		return "", c, fmt.Errorf("config '%s': %w", name, err)
	}
	if p.MaxIdle, err = intAttr(profile, "maxIdle"); err != nil {
		return "", c, fmt.Errorf("config '%s': %w", name, err)
	}
	if s := profile.attr("maxWait"); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return "", c, fmt.Errorf("config '%s': invalid maxWait %q", name, s)
		}
		p.MaxWaitMs = &ms
	}
	c.Pooling = p
	return name, c, nil
}

func parseFlowElement(el element) (FlowConfig, error) {
	flow := FlowConfig{Name: el.attr("name")}
	for _, op := range el.Children {
		switch op.XMLName.Local {
		case OperationGet, OperationStore, OperationRemove:
		default:
			continue
		}
		step := StepConfig{
			Operation:  op.XMLName.Local,
			ConfigRef:  op.attr("config-ref"),
			Key:        op.attr("key"),
			Value:      op.attr("value"),
			TTL:        op.attr("ttl"),
			BucketName: op.attr("bucketName"),
			Password:   op.attr("password"),
		}
		retryMax, err := intAttr(op, "retryMax")
		if err != nil {
			return FlowConfig{}, fmt.Errorf("flow '%s': %w", flow.Name, err)
		}
		step.RetryMax = retryMax
		flow.Steps = append(flow.Steps, step)
	}
	return flow, nil
}

func intAttr(el element, name string) (*int, error) {
	s := el.attr(name)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, s)
	}
	return &n, nil
}
