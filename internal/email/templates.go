package email

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"portal-mailer/internal/common/logger"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// TemplateStore looks up active templates by name.
type TemplateStore interface {
	Get(ctx context.Context, name string) (*Template, error)
}

// PostgresTemplateStore reads and administers the email_templates table.
type PostgresTemplateStore struct {
	db *sql.DB
}

func NewPostgresTemplateStore(db *sql.DB) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

func (s *PostgresTemplateStore) Get(ctx context.Context, name string) (*Template, error) {
	const query = `
		SELECT name, subject, body, variables, is_html, active, updated_at
		FROM email_templates
		WHERE name = $1 AND active = TRUE`

	var t Template
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&t.Name, &t.Subject, &t.Body, pq.Array(&t.Variables), &t.HTML, &t.Active, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get template %s: %w", ErrStoreUnavailable, name, err)
	}
	return &t, nil
}

// Upsert inserts the template or replaces the existing one with the same name.
func (s *PostgresTemplateStore) Upsert(ctx context.Context, t Template) error {
	const query = `
		INSERT INTO email_templates (name, subject, body, variables, is_html, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (name) DO UPDATE SET
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			variables = EXCLUDED.variables,
			is_html = EXCLUDED.is_html,
			active = EXCLUDED.active,
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, t.Name, t.Subject, t.Body, pq.Array(t.Variables), t.HTML, t.Active); err != nil {
		return fmt.Errorf("%w: upsert template %s: %w", ErrStoreUnavailable, t.Name, err)
	}
	return nil
}

// DeactivateExcept marks every active template whose name is not in keep as inactive
// and returns the names it deactivated.
func (s *PostgresTemplateStore) DeactivateExcept(ctx context.Context, keep []string) ([]string, error) {
	const query = `
		UPDATE email_templates
		SET active = FALSE, updated_at = NOW()
		WHERE active = TRUE AND NOT (name = ANY($1))
		RETURNING name`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keep))
	if err != nil {
		return nil, fmt.Errorf("%w: deactivate templates: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan template name: %w", ErrStoreUnavailable, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: deactivate templates: %w", ErrStoreUnavailable, err)
	}
	return names, nil
}

const templateCachePrefix = "mailer:template:"

// CachedTemplateStore is a Redis read-through cache in front of another store.
// Redis failures fall through to the wrapped store. A template deactivated behind
// the cache's back stays servable until its entry expires or is invalidated.
type CachedTemplateStore struct {
	next   TemplateStore
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedTemplateStore(next TemplateStore, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedTemplateStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedTemplateStore{next: next, rdb: rdb, ttl: ttl, logger: log}
}

func templateCacheKey(name string) string {
	return templateCachePrefix + name
}

func (c *CachedTemplateStore) Get(ctx context.Context, name string) (*Template, error) {
	key := templateCacheKey(name)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var t Template
		if jsonErr := json.Unmarshal([]byte(cached), &t); jsonErr == nil {
			return &t, nil
		}
		c.logger.Warn("discarding unreadable cached template", map[string]interface{}{"template": name})
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("template cache read failed", map[string]interface{}{"template": name, "error": err})
	}

	t, err := c.next.Get(ctx, name)
	if errors.Is(err, ErrTemplateNotFound) {
		if delErr := c.rdb.Del(ctx, key).Err(); delErr != nil {
			c.logger.Warn("template cache evict failed", map[string]interface{}{"template": name, "error": delErr})
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(t); err == nil {
		if err := c.rdb.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
			c.logger.Warn("template cache write failed", map[string]interface{}{"template": name, "error": err})
		}
	}
	return t, nil
}

// Invalidate drops cached copies of the named templates.
func (c *CachedTemplateStore) Invalidate(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = templateCacheKey(n)
	}
	return c.rdb.Del(ctx, keys...).Err()
}
