package emailsendtemplate

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"portal-mailer/internal/common/camunda/camundatest"
	"portal-mailer/internal/common/config"
	"portal-mailer/internal/common/errors"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/common/metrics"
	"portal-mailer/internal/email"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Sender
// ==========================

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, req email.SendRequest) (email.SendResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(email.SendResult), args.Error(1)
}

func (m *MockSender) Enqueue(ctx context.Context, req email.SendRequest) (email.SendResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(email.SendResult), args.Error(1)
}

func newTestHandler(t *testing.T, sender Sender) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: DefaultConfig(),
		Sender:       sender,
		Logger:       logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return h
}

func welcomeVariables() map[string]interface{} {
	return map[string]interface{}{
		"templateName": "welcome",
		"recipient":    "ana@example.com",
		"variables": map[string]interface{}{
			"first_name": "Ana",
			"seats":      3,
		},
	}
}

// ==========================
// Handler Creation Tests
// ==========================

func TestHandler_NewHandler(t *testing.T) {
	tests := []struct {
		name    string
		opts    HandlerOptions
		wantErr string
	}{
		{
			name: "valid configuration",
			opts: HandlerOptions{CustomConfig: DefaultConfig(), Sender: &MockSender{}},
		},
		{
			name:    "missing sender",
			opts:    HandlerOptions{CustomConfig: DefaultConfig()},
			wantErr: "requires a sender",
		},
		{
			name:    "zero timeout",
			opts:    HandlerOptions{CustomConfig: &Config{Enabled: true, MaxJobsActive: 5}, Sender: &MockSender{}},
			wantErr: "timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TaskType, h.GetTaskType())
			assert.True(t, h.IsEnabled())
		})
	}
}

func TestCreateConfigFromAppConfig(t *testing.T) {
	appConfig := &config.Config{Workers: map[string]config.WorkerConfig{
		WorkerName: {Enabled: false, MaxJobsActive: 12, Timeout: 5000, MaxRetries: 2},
	}}

	cfg := createConfigFromAppConfig(appConfig, nil)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 12, cfg.MaxJobsActive)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxRetries)

	assert.Equal(t, DefaultConfig(), createConfigFromAppConfig(nil, nil))
}

// ==========================
// Execute Routing Tests
// ==========================

func TestHandler_Execute(t *testing.T) {
	five := 5

	tests := []struct {
		name       string
		input      *Input
		wantMethod string
	}{
		{
			name:       "plain request sends immediately",
			input:      &Input{TemplateName: "welcome", Recipient: "ana@example.com"},
			wantMethod: "Send",
		},
		{
			name:       "deferred request is enqueued",
			input:      &Input{TemplateName: "welcome", Recipient: "ana@example.com", Deferred: true},
			wantMethod: "Enqueue",
		},
		{
			name:       "explicit priority is enqueued",
			input:      &Input{TemplateName: "welcome", Recipient: "ana@example.com", Priority: &five},
			wantMethod: "Enqueue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{}
			sender.On(tt.wantMethod, mock.Anything, mock.MatchedBy(func(req email.SendRequest) bool {
				return req.TemplateName == "welcome" && req.Priority == tt.input.Priority
			})).Return(email.SendResult{Outcome: email.OutcomeQueued, EntryID: "entry-001"}, nil)

			out, err := newTestHandler(t, sender).Execute(context.Background(), tt.input)

			require.NoError(t, err)
			assert.Equal(t, email.OutcomeQueued, out.Status)
			assert.Equal(t, "entry-001", out.EntryID)
			sender.AssertExpectations(t)
		})
	}
}

func TestHandler_ExecuteMapsDispatchErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode errors.ErrorCode
	}{
		{"template not found", fmt.Errorf("%w: welcome", email.ErrTemplateNotFound), errors.ErrCodeTemplateNotFound},
		{"store unavailable", fmt.Errorf("%w: insert: connection refused", email.ErrStoreUnavailable), errors.ErrCodeStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{}
			sender.On("Send", mock.Anything, mock.Anything).Return(email.SendResult{}, tt.err)

			_, err := newTestHandler(t, sender).Execute(context.Background(), &Input{TemplateName: "welcome", Recipient: "ana@example.com"})

			var stdErr *errors.StandardError
			require.True(t, stderrors.As(err, &stdErr))
			assert.Equal(t, tt.wantCode, stdErr.Code)
		})
	}
}

func TestStringifyVariables(t *testing.T) {
	out := stringifyVariables(map[string]interface{}{
		"first_name": "Ana",
		"seats":      float64(3),
		"ratio":      1.5,
		"vip":        true,
	})

	assert.Equal(t, map[string]string{"first_name": "Ana", "seats": "3", "ratio": "1.5", "vip": "true"}, out)
	assert.Nil(t, stringifyVariables(nil))
}

// ==========================
// Job Handling Tests
// ==========================

func TestHandler_HandleCompletesJob(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, email.SendRequest{
		TemplateName: "welcome",
		Recipient:    "ana@example.com",
		Variables:    map[string]string{"first_name": "Ana", "seats": "3"},
	}).Return(email.SendResult{Outcome: email.OutcomeSent, EntryID: "entry-001"}, nil)

	client := camundatest.NewJobClient()
	job := camundatest.NewJob(7, TaskType, 3, welcomeVariables())

	err := newTestHandler(t, sender).Handle(client, job)

	require.NoError(t, err)
	require.Len(t, client.Completed(), 1)
	assert.Equal(t, int64(7), client.Completed()[0].JobKey)

	vars, err := client.CompletedVariables()
	require.NoError(t, err)
	assert.Equal(t, "sent", vars["status"])
	assert.Equal(t, "entry-001", vars["entryId"])
	sender.AssertExpectations(t)
}

func TestHandler_HandleDoesNotCountUncompletedJob(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, mock.Anything).
		Return(email.SendResult{Outcome: email.OutcomeSent, EntryID: "entry-002"}, nil)

	client := camundatest.NewJobClient()
	client.FailCompleteWith(stderrors.New("rpc error: code = NotFound desc = job not found"))
	job := camundatest.NewJob(8, TaskType, 3, welcomeVariables())

	before := testutil.ToFloat64(metrics.WorkerJobsCompleted.WithLabelValues(TaskType))

	err := newTestHandler(t, sender).Handle(client, job)

	require.Error(t, err)
	assert.Empty(t, client.Completed())
	assert.Equal(t, before, testutil.ToFloat64(metrics.WorkerJobsCompleted.WithLabelValues(TaskType)))
}

func TestHandler_HandleThrowsOnMissingTemplate(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(email.SendResult{}, fmt.Errorf("%w: welcome", email.ErrTemplateNotFound))

	client := camundatest.NewJobClient()
	err := newTestHandler(t, sender).Handle(client, camundatest.NewJob(8, TaskType, 3, welcomeVariables()))

	require.Error(t, err)
	assert.Empty(t, client.Completed())
	assert.Empty(t, client.Failed())
	require.Len(t, client.Thrown(), 1)
	assert.Equal(t, "TEMPLATE_NOT_FOUND", client.Thrown()[0].ErrorCode)
}

func TestHandler_HandleFailsWithRetriesOnStoreError(t *testing.T) {
	sender := &MockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(email.SendResult{}, fmt.Errorf("%w: insert: connection refused", email.ErrStoreUnavailable))

	client := camundatest.NewJobClient()
	err := newTestHandler(t, sender).Handle(client, camundatest.NewJob(9, TaskType, 3, welcomeVariables()))

	require.Error(t, err)
	assert.Empty(t, client.Thrown())
	require.Len(t, client.Failed(), 1)
	assert.Equal(t, int32(2), client.Failed()[0].Retries)
}

func TestHandler_HandleRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		variables map[string]interface{}
	}{
		{"missing template name", map[string]interface{}{"recipient": "ana@example.com"}},
		{"missing recipient", map[string]interface{}{"templateName": "welcome"}},
		{"malformed recipient", map[string]interface{}{"templateName": "welcome", "recipient": "not-an-address"}},
		{"nested variable value", map[string]interface{}{
			"templateName": "welcome",
			"recipient":    "ana@example.com",
			"variables":    map[string]interface{}{"first_name": map[string]interface{}{"a": 1}},
		}},
		{"fractional priority", map[string]interface{}{"templateName": "welcome", "recipient": "ana@example.com", "priority": 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &MockSender{}
			client := camundatest.NewJobClient()

			err := newTestHandler(t, sender).Handle(client, camundatest.NewJob(10, TaskType, 3, tt.variables))

			require.Error(t, err)
			require.Len(t, client.Thrown(), 1)
			assert.Equal(t, "INPUT_VALIDATION_FAILED", client.Thrown()[0].ErrorCode)
			sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
			sender.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
		})
	}
}
