package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"portal-mailer/internal/common/camunda/camundatest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.messages = append(l.messages, msg)
}

func TestGetRetryCount(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeStoreUnavailable, 3},
		{ErrCodeDatabaseConnectionFailed, 3},
		{ErrCodeDeliveryFailed, 3},
		{ErrCodeDeliveryTimeout, 2},
		{ErrCodeTemplateNotFound, 0},
		{ErrCodeInputValidationFailed, 0},
		{ErrCodeInvalidAction, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetRetryCount(tt.code))
			assert.Equal(t, tt.want > 0, IsRetryableErrorCode(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	bpmnErr := ConvertToBPMNError(NewStoreUnavailableError(stderrors.New("connection refused")))

	assert.Equal(t, "STORE_UNAVAILABLE", bpmnErr.Code)
	assert.True(t, bpmnErr.Retryable)
	assert.Equal(t, 3, bpmnErr.Retries)
	assert.Equal(t, "connection refused", bpmnErr.Details)

	vars := bpmnErr.ToErrorVariables()
	assert.Equal(t, "STORE_UNAVAILABLE", vars["errorCode"])
	assert.Equal(t, "STORE_UNAVAILABLE", vars["originalErrorCode"])
	assert.Contains(t, vars, "timestamp")

	notFound := ConvertToBPMNError(NewTemplateNotFoundError("welcome"))
	assert.Equal(t, "TEMPLATE_NOT_FOUND", notFound.Code)
	assert.Equal(t, 0, notFound.Retries)
	assert.Contains(t, notFound.Details, "welcome")
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "TEMPLATE", GetErrorCategory(ErrCodeTemplateNotFound))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeStoreUnavailable))
	assert.Equal(t, "TRANSPORT", GetErrorCategory(ErrCodeDeliveryTimeout))
	assert.Equal(t, "TRANSPORT", GetErrorCategory(ErrCodeRateLimited))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInputValidationFailed))
	assert.Equal(t, "OTHER", GetErrorCategory("SOMETHING_ELSE"))
}

func TestNormalize(t *testing.T) {
	wrapped := fmt.Errorf("send welcome: %w", NewInvalidActionError("rebuild"))
	assert.Equal(t, ErrCodeInvalidAction, Normalize(wrapped).Code)

	plain := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), plain.Code)
	assert.False(t, plain.Retryable)
	assert.Equal(t, "boom", plain.Details)
}

func TestHandleJobError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		jobRetries  int32
		wantOutcome Outcome
		wantRetries int32
		wantCode    string
	}{
		{
			name:        "retryable error fails with retries",
			err:         NewStoreUnavailableError(stderrors.New("dial tcp: connection refused")),
			jobRetries:  3,
			wantOutcome: OutcomeFailed,
			wantRetries: 2,
		},
		{
			name:        "retries are capped by the code's budget",
			err:         NewDeliveryTimeoutError("smtp"),
			jobRetries:  10,
			wantOutcome: OutcomeFailed,
			wantRetries: 2,
		},
		{
			name:        "last retry throws instead of failing",
			err:         NewStoreUnavailableError(stderrors.New("dial tcp: connection refused")),
			jobRetries:  1,
			wantOutcome: OutcomeThrown,
			wantCode:    "STORE_UNAVAILABLE",
		},
		{
			name:        "business error throws",
			err:         NewTemplateNotFoundError("welcome"),
			jobRetries:  3,
			wantOutcome: OutcomeThrown,
			wantCode:    "TEMPLATE_NOT_FOUND",
		},
		{
			name:        "unknown error throws internal error",
			err:         stderrors.New("nil pointer"),
			jobRetries:  3,
			wantOutcome: OutcomeThrown,
			wantCode:    "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			client := camundatest.NewJobClient()
			job := camundatest.NewJob(42, "email-send-template", tt.jobRetries, nil)

			outcome := NewErrorHandler(log).HandleJobError(context.Background(), client, job, tt.err)

			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Len(t, log.messages, 1)

			switch tt.wantOutcome {
			case OutcomeFailed:
				require.Len(t, client.Failed(), 1)
				assert.Empty(t, client.Thrown())
				failed := client.Failed()[0]
				assert.Equal(t, int64(42), failed.JobKey)
				assert.Equal(t, tt.wantRetries, failed.Retries)

				var vars map[string]interface{}
				require.NoError(t, json.Unmarshal([]byte(failed.Variables), &vars))
				assert.Equal(t, true, vars["retryable"])
			case OutcomeThrown:
				require.Len(t, client.Thrown(), 1)
				assert.Empty(t, client.Failed())
				assert.Equal(t, tt.wantCode, client.Thrown()[0].ErrorCode)
			}
		})
	}
}
