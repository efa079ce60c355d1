package plugin

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the generated manifest schema.
const SchemaID = "https://holomush.dev/schemas/pluginhost/plugin.schema.json"

// schemaResource is the in-memory resource name the schema compiles under.
const schemaResource = "plugin.schema.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compiledErr    error
)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Plugin Manifest"
	schema.Description = "Schema for plugin.yaml bundle manifests"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("schema").Wrapf(err, "marshal schema")
	}
	return data, nil
}

// ValidateSchema validates YAML data against the manifest JSON Schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.Code(CodeInvalidManifest).Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.Code(CodeInvalidManifest).Wrapf(err, "invalid YAML")
	}

	sch, err := compiled()
	if err != nil {
		return oops.In("schema").Wrapf(err, "compile schema")
	}

	if err := sch.Validate(normalizeYAML(doc)); err != nil {
		return oops.Code(CodeInvalidManifest).Wrapf(err, "schema validation failed")
	}
	return nil
}

// compiled returns the compiled manifest schema, compiling it on first use.
func compiled() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			compiledErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			compiledErr = err
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(schemaResource, doc); err != nil {
			compiledErr = err
			return
		}
		compiledSchema, compiledErr = c.Compile(schemaResource)
	})
	return compiledSchema, compiledErr
}

// normalizeYAML converts YAML-decoded values into the shapes the validator
// accepts: map keys become strings and integers become float64.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if s, ok := k.(string); ok {
				out[s] = normalizeYAML(item)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return val
	}
}

// FormatSchemaError strips wrapping prefixes from a schema validation error
// for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if _, after, found := strings.Cut(msg, "schema validation failed: "); found {
		return after
	}
	return msg
}
