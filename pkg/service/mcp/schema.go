package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
)

// convertInputSchema converts an MCP input schema into tool parameters. Only
// the top-level properties become parameters; anything not listed in
// required is optional.
func convertInputSchema(input any) (map[string]*model.ParamSpec, error) {
	params := map[string]*model.ParamSpec{}
	if input == nil {
		return params, nil
	}

	// InputSchema arrives as any, so normalize it through JSON
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema")
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	for name, prop := range schema.Properties {
		if prop == nil {
			continue
		}
		typ, err := paramType(prop)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
		}

		spec := &model.ParamSpec{
			Type:        typ,
			Description: prop.Description,
			Optional:    !required[name],
		}
		for _, v := range prop.Enum {
			spec.Enum = append(spec.Enum, fmt.Sprint(v))
		}
		params[name] = spec
	}

	return params, nil
}

func paramType(schema *jsonschema.Schema) (model.ParamType, error) {
	typ := schema.Type
	if typ == "" {
		for _, t := range schema.Types {
			if t != "null" {
				typ = t
				break
			}
		}
	}

	switch typ {
	case "string":
		return model.ParamTypeString, nil
	case "number":
		return model.ParamTypeNumber, nil
	case "integer":
		return model.ParamTypeInteger, nil
	case "boolean":
		return model.ParamTypeBoolean, nil
	case "object":
		return model.ParamTypeObject, nil
	case "array":
		return model.ParamTypeArray, nil
	case "":
		// untyped properties accept anything; strings are the closest fit
		return model.ParamTypeString, nil
	default:
		return "", goerr.New("unsupported schema type", goerr.V("type", typ))
	}
}
