package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

// AuditSink records entries that reached a terminal status (sent or failed).
type AuditSink interface {
	Record(ctx context.Context, entry QueueEntry) error
}

// ElasticsearchAuditSink indexes terminal entries, one document per entry id.
// Documents outlive the retention sweep.
type ElasticsearchAuditSink struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchAuditSink(client *elasticsearch.Client, index string) *ElasticsearchAuditSink {
	if index == "" {
		index = "mail-audit"
	}
	return &ElasticsearchAuditSink{client: client, index: index}
}

type auditDocument struct {
	EntryID      string     `json:"entryId"`
	TemplateName string     `json:"templateName"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	Priority     int        `json:"priority"`
	LastError    string     `json:"lastError,omitempty"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	RecordedAt   time.Time  `json:"recordedAt"`
}

func (s *ElasticsearchAuditSink) Record(ctx context.Context, e QueueEntry) error {
	doc, err := json.Marshal(auditDocument{
		EntryID:      e.ID,
		TemplateName: e.TemplateName,
		Recipient:    e.Recipient,
		Subject:      e.Subject,
		Status:       e.Status,
		Attempts:     e.Attempts,
		Priority:     e.Priority,
		LastError:    e.LastError,
		SentAt:       e.SentAt,
		CreatedAt:    e.CreatedAt,
		RecordedAt:   e.UpdatedAt,
	})
	if err != nil {
		return err
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(doc),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(e.ID),
	)
	if err != nil {
		return fmt.Errorf("index audit document %s: %w", e.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index audit document %s: %s", e.ID, res.Status())
	}
	return nil
}
