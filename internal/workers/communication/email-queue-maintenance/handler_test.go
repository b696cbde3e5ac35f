package emailqueuemaintenance

import (
	"context"
	"fmt"
	"testing"

	"portal-mailer/internal/common/camunda/camundatest"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/email"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockMaintainer struct {
	SweepFunc        func(ctx context.Context) (email.SweepResult, error)
	PurgeExpiredFunc func(ctx context.Context) (int64, error)
	sweeps, purges   int
}

func (m *MockMaintainer) Sweep(ctx context.Context) (email.SweepResult, error) {
	m.sweeps++
	return m.SweepFunc(ctx)
}

func (m *MockMaintainer) PurgeExpired(ctx context.Context) (int64, error) {
	m.purges++
	return m.PurgeExpiredFunc(ctx)
}

func newTestHandler(t *testing.T, m *MockMaintainer) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Maintainer:   m,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func TestHandler_Sweep(t *testing.T) {
	m := &MockMaintainer{SweepFunc: func(ctx context.Context) (email.SweepResult, error) {
		return email.SweepResult{Selected: 4, Sent: 3, Retried: 1}, nil
	}}
	client := camundatest.NewJobClient()

	err := newTestHandler(t, m).Handle(client, camundatest.NewJob(1, TaskType, 3, map[string]interface{}{"action": "sweep"}))

	require.NoError(t, err)
	assert.Equal(t, 1, m.sweeps)
	assert.Equal(t, 0, m.purges)

	vars, err := client.CompletedVariables()
	require.NoError(t, err)
	assert.Equal(t, "sweep", vars["action"])
	assert.Equal(t, float64(4), vars["selected"])
	assert.Equal(t, float64(3), vars["sent"])
	assert.Equal(t, float64(1), vars["retried"])
}

func TestHandler_SweepSkipped(t *testing.T) {
	m := &MockMaintainer{SweepFunc: func(ctx context.Context) (email.SweepResult, error) {
		return email.SweepResult{Skipped: true, SkipReason: "rate_limited"}, nil
	}}

	out, err := newTestHandler(t, m).Execute(context.Background(), &Input{Action: "Sweep"})

	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, "rate_limited", out.SkipReason)
}

func TestHandler_Purge(t *testing.T) {
	m := &MockMaintainer{PurgeExpiredFunc: func(ctx context.Context) (int64, error) {
		return 12, nil
	}}
	client := camundatest.NewJobClient()

	err := newTestHandler(t, m).Handle(client, camundatest.NewJob(2, TaskType, 3, map[string]interface{}{"action": "purge"}))

	require.NoError(t, err)
	vars, err := client.CompletedVariables()
	require.NoError(t, err)
	assert.Equal(t, float64(12), vars["purged"])
}

func TestHandler_InvalidActionThrows(t *testing.T) {
	m := &MockMaintainer{}
	client := camundatest.NewJobClient()

	err := newTestHandler(t, m).Handle(client, camundatest.NewJob(3, TaskType, 3, map[string]interface{}{"action": "rebuild"}))

	require.Error(t, err)
	require.Len(t, client.Thrown(), 1)
	assert.Equal(t, "INVALID_ACTION", client.Thrown()[0].ErrorCode)
	assert.Equal(t, 0, m.sweeps+m.purges)
}

func TestHandler_MissingActionThrows(t *testing.T) {
	client := camundatest.NewJobClient()

	err := newTestHandler(t, &MockMaintainer{}).Handle(client, camundatest.NewJob(4, TaskType, 3, map[string]interface{}{}))

	require.Error(t, err)
	require.Len(t, client.Thrown(), 1)
	assert.Equal(t, "INPUT_VALIDATION_FAILED", client.Thrown()[0].ErrorCode)
}

func TestHandler_StoreErrorFailsWithRetries(t *testing.T) {
	m := &MockMaintainer{PurgeExpiredFunc: func(ctx context.Context) (int64, error) {
		return 0, fmt.Errorf("%w: purge: connection refused", email.ErrStoreUnavailable)
	}}
	client := camundatest.NewJobClient()

	err := newTestHandler(t, m).Handle(client, camundatest.NewJob(5, TaskType, 3, map[string]interface{}{"action": "purge"}))

	require.Error(t, err)
	assert.Empty(t, client.Thrown())
	require.Len(t, client.Failed(), 1)
	assert.Equal(t, int32(2), client.Failed()[0].Retries)
}

func TestNewHandler_RequiresMaintainer(t *testing.T) {
	_, err := NewHandler(HandlerOptions{CustomConfig: DefaultConfig()})
	require.Error(t, err)
}
