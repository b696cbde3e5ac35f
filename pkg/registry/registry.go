// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"portal-mailer/internal/common/validation"
	"portal-mailer/internal/email"
)

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse checks data against the registry schema before decoding it.
func Parse(data []byte) (*TemplateRegistry, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid registry JSON: %w", err)
	}

	result, err := validation.ValidateDocument(registrySchema, doc)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("registry does not match schema: %s", strings.Join(result.GetErrorMessages(), "; "))
	}

	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate reports the first semantic problem in the registry: duplicate names or
// a placeholder that the template does not declare.
func Validate(reg *TemplateRegistry) error {
	if len(reg.Templates) == 0 {
		return fmt.Errorf("registry contains no templates")
	}

	names := make(map[string]bool, len(reg.Templates))
	for _, t := range reg.Templates {
		if names[t.Name] {
			return fmt.Errorf("duplicate template name: %s", t.Name)
		}
		names[t.Name] = true

		declared := make(map[string]bool, len(t.Variables))
		for _, v := range t.Variables {
			declared[v] = true
		}
		for _, field := range []struct{ name, text string }{{"subject", t.Subject}, {"body", t.Body}} {
			for _, p := range email.Placeholders(field.text) {
				if !declared[p] {
					return fmt.Errorf("template %s: %s uses undeclared placeholder {%s}", t.Name, field.name, p)
				}
			}
		}
	}
	return nil
}

// Templates converts the definitions to store records.
func (r *TemplateRegistry) ToTemplates() []email.Template {
	out := make([]email.Template, 0, len(r.Templates))
	for _, d := range r.Templates {
		active := true
		if d.Active != nil {
			active = *d.Active
		}
		out = append(out, email.Template{
			Name:      d.Name,
			Subject:   d.Subject,
			Body:      d.Body,
			Variables: d.Variables,
			HTML:      d.HTML,
			Active:    active,
		})
	}
	return out
}

// Names returns the template names in file order.
func (r *TemplateRegistry) Names() []string {
	names := make([]string, len(r.Templates))
	for i, d := range r.Templates {
		names[i] = d.Name
	}
	return names
}
