package emailsendtemplate

import (
	"portal-mailer/internal/common/validation"
	"portal-mailer/internal/email"
)

type Input struct {
	TemplateName string                 `json:"templateName"`
	Recipient    string                 `json:"recipient"`
	Variables    map[string]interface{} `json:"variables,omitempty"`
	Priority     *int                   `json:"priority,omitempty"`
	Deferred     bool                   `json:"deferred,omitempty"`
}

type Output struct {
	Status  email.Outcome `json:"status"`
	EntryID string        `json:"entryId"`
}

// inputSchema is compiled once; variable values may be strings, numbers or booleans
// and are stringified before rendering.
var inputSchema = validation.MustCompileSchema(map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"templateName", "recipient"},
	"properties": map[string]interface{}{
		"templateName": map[string]interface{}{"type": "string", "minLength": 1},
		"recipient":    map[string]interface{}{"type": "string", "minLength": 3},
		"variables": map[string]interface{}{
			"type": "object",
			"additionalProperties": map[string]interface{}{
				"type": []interface{}{"string", "number", "boolean"},
			},
		},
		"priority": map[string]interface{}{"type": "integer"},
		"deferred": map[string]interface{}{"type": "boolean"},
	},
})
