package tools

// Definition is a function tool in the OpenAI-compatible request format.
type Definition struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function describes a callable tool.
type Function struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Parameters is the JSON schema object for a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Property is a single argument in a tool schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Definitions returns the tools declared to the provider.
func Definitions() []Definition {
	animations := make([]string, len(Animations))
	for i, a := range Animations {
		animations[i] = string(a)
	}

	return []Definition{
		{
			Type: "function",
			Function: Function{
				Name:        NameCelebrate,
				Description: "Celebrate when the child answers correctly or shows enthusiasm",
				Parameters: Parameters{
					Type: "object",
					Properties: map[string]Property{
						"message": {
							Type:        "string",
							Description: "The celebration message to display",
						},
						"animation": {
							Type:        "string",
							Description: "The type of celebration animation",
							Enum:        animations,
						},
					},
					Required: []string{"message", "animation"},
				},
			},
		},
		{
			Type: "function",
			Function: Function{
				Name:        NameHighlight,
				Description: "Highlight a specific part of the image to draw attention",
				Parameters: Parameters{
					Type: "object",
					Properties: map[string]Property{
						"region": {
							Type:        "string",
							Description: "Description of which part of the image to highlight",
						},
					},
					Required: []string{"region"},
				},
			},
		},
	}
}

// Schema returns the parameters of d as a generic map, for SDKs that take
// untyped JSON schema.
func (d Definition) Schema() map[string]any {
	props := make(map[string]any, len(d.Function.Parameters.Properties))
	for name, p := range d.Function.Parameters.Properties {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	return map[string]any{
		"type":       d.Function.Parameters.Type,
		"properties": props,
		"required":   d.Function.Parameters.Required,
	}
}
