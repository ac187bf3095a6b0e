package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// topologySchemaJSON constrains the shape of a topology manifest: every
// area needs an id and an owning node address, and per-category auth
// levels must be non-negative.
const topologySchemaJSON = `{
  "type": "object",
  "required": ["areas"],
  "properties": {
    "broker_addr": {"type": "string"},
    "areas": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "node_addr"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "node_addr": {"type": "string", "minLength": 1},
          "auth_levels": {
            "type": "object",
            "additionalProperties": {"type": "integer", "minimum": 0}
          }
        }
      }
    }
  }
}`

var topologySchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("topology.json", bytes.NewReader([]byte(topologySchemaJSON))); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("topology.json")
	if err != nil {
		panic(err)
	}
	topologySchema = schema
}

// Area is one area's routing entry in the cluster topology: which node
// owns it and what auth level each request category requires there.
type Area struct {
	ID         uint64         `yaml:"id"`
	NodeAddr   string         `yaml:"node_addr"`
	AuthLevels map[uint8]uint8 `yaml:"auth_levels"`
}

// Topology is the cluster-wide manifest: the broker's address and the
// area-to-node assignment every processor node needs to route
// notifications correctly.
type Topology struct {
	BrokerAddr string `yaml:"broker_addr"`
	Areas      []Area `yaml:"areas"`
}

// LoadTopology reads and validates a YAML topology manifest at path. The
// document is validated as untyped data against the compiled JSON Schema
// before being unmarshaled into Topology, so a malformed manifest is
// rejected with the schema's own error path rather than a generic YAML
// decode failure.
func LoadTopology(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	var untyped interface{}
	if err := yaml.Unmarshal(raw, &untyped); err != nil {
		return nil, errors.Wrapf(err, "config: parse yaml %s", path)
	}
	if err := topologySchema.Validate(jsonify(untyped)); err != nil {
		return nil, errors.Wrapf(err, "config: %s failed schema validation", path)
	}

	var topo Topology
	if err := yaml.Unmarshal(raw, &topo); err != nil {
		return nil, errors.Wrapf(err, "config: decode %s", path)
	}
	return &topo, nil
}

// jsonify converts yaml.v3's decode result (map[string]interface{}, or
// map[interface{}]interface{} for a mapping with non-string keys such as
// auth_levels) into the map[string]interface{}-only shape jsonschema
// expects (YAML permits non-string map keys, JSON Schema does not).
func jsonify(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = jsonify(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonify(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = jsonify(val)
		}
		return out
	default:
		return v
	}
}

// AreaByID finds an area's routing entry, or reports it missing.
func (t *Topology) AreaByID(id uint64) (Area, bool) {
	for _, a := range t.Areas {
		if a.ID == id {
			return a, true
		}
	}
	return Area{}, false
}
