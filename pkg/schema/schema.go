// Package schema loads Record Schema Documents: JSON-Schema-flavored YAML
// object definitions extended with a pre_process_requirements instruction
// block, and validates candidate records against them.
package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Property describes a single schema property.
type Property struct {
	Type  string    `yaml:"type"`
	Items *Property `yaml:"items,omitempty"`
}

// Document is a Record Schema Document. PreProcessRequirements is not part of
// the JSON Schema vocabulary; it carries the natural-language instruction
// block forwarded verbatim to the LLM.
type Document struct {
	Type                   string              `yaml:"type"`
	Properties             map[string]Property `yaml:"properties"`
	Required               []string            `yaml:"required"`
	PreProcessRequirements string              `yaml:"pre_process_requirements,omitempty"`
}

// ValidationError reports why a record failed schema validation.
type ValidationError struct {
	Missing []string // required fields absent or null
	Invalid []string // fields present with the wrong type, as "field: reason"
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, "; "))
	}
	if len(parts) == 0 {
		return "schema: record is invalid"
	}

	return "schema: " + strings.Join(parts, "; ")
}

// Load reads a Record Schema Document from a YAML file. The document must
// declare an object type, and every required name must be a declared property.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the settings document
	if err != nil {
		return Document{}, fmt.Errorf("schema: load: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("schema: parse %s: %w", path, err)
	}

	if doc.Type != "object" {
		return Document{}, fmt.Errorf("schema: %s: type must be \"object\", got %q", path, doc.Type)
	}

	for _, name := range doc.Required {
		if _, ok := doc.Properties[name]; !ok {
			return Document{}, fmt.Errorf("schema: %s: required field %q is not declared in properties", path, name)
		}
	}

	for name, prop := range doc.Properties {
		if prop.Type == "array" && (prop.Items == nil || prop.Items.Type == "") {
			return Document{}, fmt.Errorf("schema: %s: array property %q must declare an items type", path, name)
		}
	}

	// categories carries the record's tag list; the pipeline and the tagged
	// text form both expect it as a list of strings.
	if cats, ok := doc.Properties["categories"]; ok {
		if cats.Type != "array" || cats.Items == nil || cats.Items.Type != "string" {
			return Document{}, fmt.Errorf("schema: %s: categories must be an array with string items", path)
		}
	}

	return doc, nil
}

// Validate checks a candidate record against the document: every required
// field must be present and non-null, and declared fields that are present
// must match their declared type. Undeclared fields are ignored.
func (d Document) Validate(record map[string]any) error {
	verr := &ValidationError{}

	for _, name := range d.Required {
		v, ok := record[name]
		if !ok || v == nil {
			verr.Missing = append(verr.Missing, name)
		}
	}

	for name, prop := range d.Properties {
		v, ok := record[name]
		if !ok || v == nil {
			continue
		}
		if reason := checkType(v, prop); reason != "" {
			verr.Invalid = append(verr.Invalid, name+": "+reason)
		}
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}

	return nil
}

func checkType(v any, prop Property) string {
	switch prop.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("expected string, got %T", v)
		}
	case "number":
		switch v.(type) {
		case int, int64, float64:
		default:
			return fmt.Sprintf("expected number, got %T", v)
		}
	case "array":
		items, ok := v.([]any)
		if !ok {
			// []string is the common in-process shape for categories.
			if _, ok := v.([]string); ok && (prop.Items == nil || prop.Items.Type == "string") {
				return ""
			}
			return fmt.Sprintf("expected array, got %T", v)
		}
		if prop.Items != nil {
			for i, item := range items {
				if reason := checkType(item, *prop.Items); reason != "" {
					return fmt.Sprintf("item %d: %s", i, reason)
				}
			}
		}
	}

	return ""
}

// Requirements returns the trimmed pre_process_requirements block, or an
// error when the document does not carry one.
func (d Document) Requirements() (string, error) {
	req := strings.TrimSpace(d.PreProcessRequirements)
	if req == "" {
		return "", fmt.Errorf("schema: no pre_process_requirements found")
	}

	return req, nil
}
