package params

import (
	"github.com/invopop/jsonschema"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// JSONSchema renders the descriptor's parameter schema as a JSON Schema
// object, suitable for use as an LLM tool input schema. Properties keep
// their declared order.
func JSONSchema(d *capability.Descriptor) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:                 "object",
		Description:          d.Description,
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}

	for _, spec := range d.ParameterSchema {
		schema.Properties.Set(spec.Name, propertySchema(spec))
		if spec.Required {
			schema.Required = append(schema.Required, spec.Name)
		}
	}
	return schema
}

func propertySchema(spec capability.ParameterSpec) *jsonschema.Schema {
	prop := &jsonschema.Schema{Description: spec.Description}

	switch spec.Type {
	case capability.ParamBool:
		prop.Type = "boolean"
	case capability.ParamInt:
		prop.Type = "integer"
	case capability.ParamList:
		prop.Type = "array"
		prop.Items = &jsonschema.Schema{Type: "string", Enum: enumValues(spec.AllowedValues)}
	default:
		prop.Type = "string"
		prop.Enum = enumValues(spec.AllowedValues)
	}

	if spec.HasDefault() {
		if v, err := coerceDefault(spec); err == nil {
			prop.Default = v
		}
	}
	return prop
}

func enumValues(values []string) []any {
	if len(values) == 0 {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
