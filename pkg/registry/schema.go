// pkg/registry/schema.go
package registry

// TemplateRegistry is the on-disk catalogue of email templates.
type TemplateRegistry struct {
	Version     string               `json:"version"`
	LastUpdated string               `json:"lastUpdated"`
	Templates   []TemplateDefinition `json:"templates"`
}

type TemplateDefinition struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Variables   []string `json:"variables"`
	HTML        bool     `json:"html"`
	// Active defaults to true when omitted.
	Active      *bool    `json:"active,omitempty"`
}

// registrySchema describes the file layout; semantic checks live in Validate.
var registrySchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"version", "templates"},
	"properties": map[string]interface{}{
		"version":     map[string]interface{}{"type": "string"},
		"lastUpdated": map[string]interface{}{"type": "string"},
		"templates": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"name", "subject", "body"},
				"properties": map[string]interface{}{
					"name":        map[string]interface{}{"type": "string", "pattern": "^[a-z0-9][a-z0-9_.-]*$"},
					"description": map[string]interface{}{"type": "string"},
					"subject":     map[string]interface{}{"type": "string", "minLength": 1},
					"body":        map[string]interface{}{"type": "string", "minLength": 1},
					"variables": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string", "minLength": 1},
						"uniqueItems": true,
					},
					"html":   map[string]interface{}{"type": "boolean"},
					"active": map[string]interface{}{"type": "boolean"},
				},
			},
		},
	},
}
