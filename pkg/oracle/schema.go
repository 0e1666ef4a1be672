package oracle

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/model"
	"google.golang.org/genai"
)

var genaiResponseSchema = mustGenaiSchema(ResponseSchema())

// ResponseSchema describes the JSON object the oracle must answer with
func ResponseSchema() *jsonschema.Schema {
	types := make([]any, len(model.FactTypes))
	for i, t := range model.FactTypes {
		types[i] = string(t)
	}

	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"facts"},
		Properties: map[string]*jsonschema.Schema{
			"facts": {
				Type:        "array",
				Description: "Changes to the user's memory profile found in the conversation",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"type": {
							Type: "string",
							Enum: types,
						},
						"subject": {
							Type:        "string",
							Description: "Short lowercase label such as name, vehicle, coffee",
						},
						"value": {
							Type:        "string",
							Description: "General description without identifying numbers or addresses",
						},
						"sentiment": {
							Type: "string",
							Enum: []any{string(model.SentimentPositive), string(model.SentimentNegative), string(model.SentimentNeutral)},
						},
						"confidence": {
							Type: "number",
						},
						"op": {
							Type:        "string",
							Description: "Omit to add or update, \"remove\" to forget the fact, \"clear\" to forget everything",
						},
					},
				},
			},
		},
	}
}

func mustGenaiSchema(schema *jsonschema.Schema) *genai.Schema {
	converted, err := toGenaiSchema(schema)
	if err != nil {
		panic(err)
	}
	return converted
}

// toGenaiSchema converts a JSON Schema into the subset Gemini accepts
func toGenaiSchema(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: schema.Description,
		Required:    schema.Required,
	}

	switch schema.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	case "":
	default:
		return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
	}

	for _, v := range schema.Enum {
		s, ok := v.(string)
		if !ok {
			return nil, goerr.New("only string enums are supported", goerr.V("value", v))
		}
		out.Enum = append(out.Enum, s)
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := toGenaiSchema(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}

	if schema.Items != nil {
		converted, err := toGenaiSchema(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}
