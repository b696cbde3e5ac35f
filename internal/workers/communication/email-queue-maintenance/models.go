package emailqueuemaintenance

import "portal-mailer/internal/common/validation"

const (
	ActionSweep = "sweep"
	ActionPurge = "purge"
)

type Input struct {
	Action string `json:"action"`
}

type Output struct {
	Action      string `json:"action"`
	Skipped     bool   `json:"skipped,omitempty"`
	SkipReason  string `json:"skipReason,omitempty"`
	Selected    int    `json:"selected"`
	Sent        int    `json:"sent"`
	Retried     int    `json:"retried"`
	Failed      int    `json:"failed"`
	RateLimited bool   `json:"rateLimited,omitempty"`
	Purged      int64  `json:"purged"`
}

var inputSchema = validation.MustCompileSchema(map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"action"},
	"properties": map[string]interface{}{
		"action": map[string]interface{}{"type": "string", "minLength": 1},
	},
})
