package model

import (
	"regexp"
	"sort"

	"github.com/m-mizutani/goerr/v2"
)

// ParamType is a JSON schema primitive type used by tool parameters
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeNumber  ParamType = "number"
	ParamTypeInteger ParamType = "integer"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeObject  ParamType = "object"
	ParamTypeArray   ParamType = "array"
)

// ParamSpec describes one tool parameter
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Enum        []string  `json:"enum,omitempty"`
	Optional    bool      `json:"optional,omitempty"`
}

// ToolDescriptor is the immutable description of a loaded tool
type ToolDescriptor struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Category    string                `json:"category"`
	Parameters  map[string]*ParamSpec `json:"parameters"`
	Keywords    []string              `json:"keywords,omitempty"`
}

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks that the descriptor can be registered
func (d *ToolDescriptor) Validate() error {
	if d == nil {
		return goerr.New("tool descriptor is nil")
	}
	if d.Name == "" {
		return goerr.New("tool name is empty")
	}
	if d.Description == "" {
		return goerr.New("tool description is empty", goerr.V("name", d.Name))
	}
	if !toolNamePattern.MatchString(d.Name) {
		return goerr.New("tool name must be lowercase_with_underscores", goerr.V("name", d.Name))
	}
	return nil
}

// ParamNames returns parameter names in sorted order
func (d *ToolDescriptor) ParamNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexText builds the text embedded by the memory service for semantic tool selection
func (d *ToolDescriptor) IndexText() string {
	text := d.Name + ": " + d.Description
	if d.Category != "" {
		text += " (category: " + d.Category + ")"
	}
	if len(d.Keywords) > 0 {
		text += " keywords:"
		for _, kw := range d.Keywords {
			text += " " + kw
		}
	}
	return text
}

// ToolSchema is the function-call wire format sent to model providers. Field
// names are part of the provider contract.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Parameters  ToolSchemaBody `json:"parameters"`
}

// ToolSchemaBody is the "parameters" object of ToolSchema
type ToolSchemaBody struct {
	Type       string                `json:"type"`
	Properties map[string]*ParamSpec `json:"properties"`
	Required   []string              `json:"required"`
}

// Schema converts the descriptor into the wire schema. Parameters marked
// optional are never listed in required.
func (d *ToolDescriptor) Schema() *ToolSchema {
	props := make(map[string]*ParamSpec, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, name := range d.ParamNames() {
		p := d.Parameters[name]
		if p == nil {
			continue
		}
		props[name] = p
		if !p.Optional {
			required = append(required, name)
		}
	}

	return &ToolSchema{
		Name:        d.Name,
		Description: d.Description,
		Type:        "function",
		Parameters: ToolSchemaBody{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}
