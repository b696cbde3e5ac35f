//go:build e2e

// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-mailer/internal/common/config"
	"portal-mailer/internal/common/database"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/email"
	"portal-mailer/migrations"
)

// These tests need the Postgres (and optionally Redis) from configs/config.yaml:
//
//	go test -tags e2e ./test/e2e/...

var (
	cfg *config.Config
	db  *sql.DB
	rc  *database.RedisClient
)

func TestMain(m *testing.M) {
	var err error
	cfg, err = config.Load()
	if err != nil {
		panic("config load failed: " + err.Error())
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		panic("postgres open failed: " + err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.Ping(ctx); err != nil {
		panic("postgres unreachable: " + err.Error())
	}
	if err := database.RunMigrations(pg.GetDB(), migrations.FS); err != nil {
		panic("migrations failed: " + err.Error())
	}
	db = pg.GetDB()

	if cfg.Database.Redis.Enabled {
		rc = database.NewRedis(cfg.Database.Redis)
		if err := rc.Ping(ctx); err != nil {
			panic("redis unreachable: " + err.Error())
		}
	}

	code := m.Run()

	if rc != nil {
		rc.Close()
	}
	pg.Close()
	os.Exit(code)
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []email.Message
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Deliver(ctx context.Context, msg email.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE email_queue, email_templates`)
	require.NoError(t, err)
}

func newDispatcher(t *testing.T, now *time.Time, limit int) (*email.Dispatcher, *recordingTransport) {
	t.Helper()
	ctx := context.Background()

	var templates email.TemplateStore = email.NewPostgresTemplateStore(db)
	opts := []email.Option{email.WithClock(func() time.Time { return *now })}
	if rc != nil {
		cached := email.NewCachedTemplateStore(templates, rc.Client, time.Minute, logger.NewTestLogger(t))
		require.NoError(t, cached.Invalidate(ctx, "welcome"))
		templates = cached
		opts = append(opts, email.WithLocker(email.NewRedisLocker(rc.Client)))
	}

	transport := &recordingTransport{}
	d := email.NewDispatcher(email.Config{
		FromAddress: "portal@example.com",
		HourlyLimit: limit,
		MaxAttempts: 3,
		BatchSize:   10,
	}, templates, email.NewPostgresQueueStore(db), transport, logger.NewTestLogger(t), opts...)
	return d, transport
}

func TestMailer_SendQueueAndSweep(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	require.NoError(t, email.NewPostgresTemplateStore(db).Upsert(ctx, email.Template{
		Name:      "welcome",
		Subject:   "Welcome {first_name}",
		Body:      "<p>Hi {first_name}</p>",
		Variables: []string{"first_name"},
		HTML:      true,
		Active:    true,
	}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	d, transport := newDispatcher(t, &now, 1)

	first, err := d.Send(ctx, email.SendRequest{TemplateName: "welcome", Recipient: "ana@example.com", Variables: map[string]string{"first_name": "Ana"}})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeSent, first.Outcome)

	second, err := d.Send(ctx, email.SendRequest{TemplateName: "welcome", Recipient: "ben@example.com", Variables: map[string]string{"first_name": "Ben"}})
	require.NoError(t, err)
	assert.Equal(t, email.OutcomeQueued, second.Outcome)

	skipped, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.True(t, skipped.Skipped)

	now = now.Add(61 * time.Minute)
	swept, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept.Sent)

	require.Len(t, transport.sent, 2)
	assert.Equal(t, "<p>Hi Ben</p>", transport.sent[1].Body)

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[email.StatusSent])
	assert.Equal(t, 0, stats[email.StatusPending])

	_, err = d.Send(ctx, email.SendRequest{TemplateName: "missing", Recipient: "ana@example.com"})
	assert.ErrorIs(t, err, email.ErrTemplateNotFound)
}

func TestMailer_RetentionSweep(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	require.NoError(t, email.NewPostgresTemplateStore(db).Upsert(ctx, email.Template{
		Name: "welcome", Subject: "Hi", Body: "Hi", Active: true,
	}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	d, _ := newDispatcher(t, &now, 80)

	_, err := d.Send(ctx, email.SendRequest{TemplateName: "welcome", Recipient: "ana@example.com"})
	require.NoError(t, err)
	_, err = d.Enqueue(ctx, email.SendRequest{TemplateName: "welcome", Recipient: "ben@example.com"})
	require.NoError(t, err)

	now = now.Add(31 * 24 * time.Hour)
	purged, err := d.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "only the terminal entry is purged")

	purged, err = d.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[email.StatusPending])
}
