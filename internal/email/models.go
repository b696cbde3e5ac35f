// Package email renders named templates and delivers them immediately or through
// a durable, rate-limited queue.
package email

import (
	"errors"
	"time"
)

var (
	// ErrTemplateNotFound is returned when no active template has the requested name.
	ErrTemplateNotFound = errors.New("TEMPLATE_NOT_FOUND")
	// ErrStoreUnavailable wraps every persistence failure.
	ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")
	// ErrEntryNotPending is returned when an update targets an entry that already left pending.
	ErrEntryNotPending = errors.New("ENTRY_NOT_PENDING")
	// ErrDeliveryTimeout marks a transport call cut off by the delivery timeout.
	ErrDeliveryTimeout = errors.New("DELIVERY_TIMEOUT")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Outcome is the caller-visible result of Send and Enqueue.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeQueued Outcome = "queued"
)

// Template is a named subject/body pair with {placeholder} variables.
type Template struct {
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables"`
	HTML      bool      `json:"html"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// QueueEntry is one outbound message. Subject and body are rendered once, at creation.
type QueueEntry struct {
	ID           string
	TemplateName string
	Recipient    string
	Subject      string
	Body         string
	HTML         bool
	Variables    map[string]string
	Status       Status
	Attempts     int
	MaxAttempts  int
	Priority     int
	ScheduledAt  time.Time
	SentAt       *time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SendRequest asks for template TemplateName to be sent to Recipient.
type SendRequest struct {
	TemplateName string
	Recipient    string
	Variables    map[string]string
	// Priority overrides Config.DefaultPriority when set. Higher sweeps first.
	Priority *int
}

type SendResult struct {
	Outcome Outcome `json:"status"`
	EntryID string  `json:"entryId"`
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`
	Selected   int    `json:"selected"`
	Sent       int    `json:"sent"`
	Retried    int    `json:"retried"`
	Failed     int    `json:"failed"`
	// RateLimited is set when the sweep stopped early because the hourly ceiling was reached.
	RateLimited bool `json:"rateLimited"`
}

// Message is what a Transport delivers.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
	HTML     bool
}

// Config is the dispatcher policy. Zero fields take the defaults below.
type Config struct {
	FromAddress     string
	FromName        string
	HourlyLimit     int
	MaxAttempts     int
	BatchSize       int
	DefaultPriority int
	DeliveryTimeout time.Duration
	Retention       time.Duration
	SweepLockTTL    time.Duration
}

const (
	DefaultHourlyLimit     = 80
	DefaultMaxAttempts     = 3
	DefaultBatchSize       = 10
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultSweepLockTTL    = 10 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.HourlyLimit == 0 {
		c.HourlyLimit = DefaultHourlyLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SweepLockTTL <= 0 {
		c.SweepLockTTL = DefaultSweepLockTTL
	}
	return c
}
