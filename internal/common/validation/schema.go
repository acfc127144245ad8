// Package validation checks agent responses against per-agent JSON schemas.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ResponseValidator holds one compiled schema per agent name.
type ResponseValidator struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// RequiredFieldsSchema builds an object schema whose only constraint is the presence
// of every listed field.
func RequiredFieldsSchema(fields []string) map[string]interface{} {
	required := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		required = append(required, f)
	}
	return map[string]interface{}{
		"type":     "object",
		"required": required,
	}
}

// NewResponseValidator compiles a schema for every agent in requiredFields.
func NewResponseValidator(requiredFields map[string][]string) (*ResponseValidator, error) {
	v := &ResponseValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for agentName, fields := range requiredFields {
		if err := v.Register(agentName, RequiredFieldsSchema(fields)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Register compiles and stores schema for agentName, replacing any previous one.
func (v *ResponseValidator) Register(agentName string, schema map[string]interface{}) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid schema for agent %s: %w", agentName, err)
	}
	v.mu.Lock()
	v.schemas[agentName] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks doc against the schema registered for agentName.
// Agents without a schema always validate.
func (v *ResponseValidator) Validate(agentName string, doc map[string]interface{}) (*ValidationResult, error) {
	v.mu.RLock()
	schema, ok := v.schemas[agentName]
	v.mu.RUnlock()
	if !ok {
		return &ValidationResult{Valid: true}, nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if desc.Type() == "required" {
			if p, ok := desc.Details()["property"].(string); ok {
				field = p
			}
		}
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	sort.Slice(out.Errors, func(i, j int) bool { return out.Errors[i].Field < out.Errors[j].Field })
	return out, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// MissingFields lists the fields reported absent by a required-field schema.
func (vr *ValidationResult) MissingFields() []string {
	var fields []string
	for _, err := range vr.Errors {
		if err.Code == "REQUIRED" {
			fields = append(fields, err.Field)
		}
	}
	return fields
}
