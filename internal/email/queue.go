package email

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueueStore persists QueueEntries. Status changes only ever leave pending.
type QueueStore interface {
	Insert(ctx context.Context, entry *QueueEntry) error
	// Update writes the mutable fields of a pending entry. It returns
	// ErrEntryNotPending when the stored entry is no longer pending.
	Update(ctx context.Context, entry *QueueEntry) error
	// Due returns up to limit pending entries with attempts left and
	// scheduled_at <= now, highest priority first, then oldest.
	Due(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error)
	CountSentSince(ctx context.Context, since time.Time) (int, error)
	// PurgeBefore deletes sent and failed entries created before cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Get(ctx context.Context, id string) (*QueueEntry, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// ErrEntryNotFound is returned by Get for unknown ids.
var ErrEntryNotFound = errors.New("ENTRY_NOT_FOUND")

// PostgresQueueStore stores entries in the email_queue table.
type PostgresQueueStore struct {
	db *sql.DB
}

func NewPostgresQueueStore(db *sql.DB) *PostgresQueueStore {
	return &PostgresQueueStore{db: db}
}

const queueColumns = `id, template_name, recipient, subject, body, is_html, variables, status,
	attempts, max_attempts, priority, scheduled_at, sent_at, last_error, created_at, updated_at`

func (s *PostgresQueueStore) Insert(ctx context.Context, e *QueueEntry) error {
	vars, err := json.Marshal(e.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	query := `INSERT INTO email_queue (` + queueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.TemplateName, e.Recipient, e.Subject, e.Body, e.HTML, vars, string(e.Status),
		e.Attempts, e.MaxAttempts, e.Priority, e.ScheduledAt, nullTime(e.SentAt), nullString(e.LastError),
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert queue entry %s: %w", ErrStoreUnavailable, e.ID, err)
	}
	return nil
}

func (s *PostgresQueueStore) Update(ctx context.Context, e *QueueEntry) error {
	const query = `
		UPDATE email_queue
		SET status = $2, attempts = $3, sent_at = $4, last_error = $5, updated_at = $6
		WHERE id = $1 AND status = 'pending'`

	res, err := s.db.ExecContext(ctx, query,
		e.ID, string(e.Status), e.Attempts, nullTime(e.SentAt), nullString(e.LastError), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update queue entry %s: %w", ErrStoreUnavailable, e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update queue entry %s: %w", ErrStoreUnavailable, e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotPending, e.ID)
	}
	return nil
}

func (s *PostgresQueueStore) Due(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error) {
	query := `SELECT ` + queueColumns + `
		FROM email_queue
		WHERE status = 'pending' AND attempts < max_attempts AND scheduled_at <= $1
		ORDER BY priority DESC, scheduled_at ASC, id ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select due entries: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: select due entries: %w", ErrStoreUnavailable, err)
	}
	return entries, nil
}

func (s *PostgresQueueStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM email_queue WHERE status = 'sent' AND sent_at >= $1`

	var n int
	if err := s.db.QueryRowContext(ctx, query, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count sent entries: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *PostgresQueueStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM email_queue WHERE status IN ('sent', 'failed') AND created_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: purge entries: %w", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: purge entries: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *PostgresQueueStore) Get(ctx context.Context, id string) (*QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM email_queue WHERE id = $1`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e, err
}

func (s *PostgresQueueStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	const query = `SELECT status, COUNT(*) FROM email_queue GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: count by status: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	counts := map[Status]int{StatusPending: 0, StatusSent: 0, StatusFailed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: count by status: %w", ErrStoreUnavailable, err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: count by status: %w", ErrStoreUnavailable, err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*QueueEntry, error) {
	var (
		e         QueueEntry
		status    string
		vars      []byte
		sentAt    sql.NullTime
		lastError sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.TemplateName, &e.Recipient, &e.Subject, &e.Body, &e.HTML, &vars, &status,
		&e.Attempts, &e.MaxAttempts, &e.Priority, &e.ScheduledAt, &sentAt, &lastError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan queue entry: %w", ErrStoreUnavailable, err)
	}

	e.Status = Status(status)
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	e.LastError = lastError.String
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &e.Variables); err != nil {
			return nil, fmt.Errorf("decode variables of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
