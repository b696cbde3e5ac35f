package emailsendtemplate

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"portal-mailer/internal/common/config"
	"portal-mailer/internal/common/errors"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/common/metrics"
	"portal-mailer/internal/common/observability"
	"portal-mailer/internal/common/validation"
	"portal-mailer/internal/email"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/trace"
)

const (
	TaskType   = "email.send.template"
	WorkerName = "email-send-template"
)

// Sender is the part of email.Dispatcher this worker drives.
type Sender interface {
	Send(ctx context.Context, req email.SendRequest) (email.SendResult, error)
	Enqueue(ctx context.Context, req email.SendRequest) (email.SendResult, error)
}

type Handler struct {
	config       *Config
	logger       logger.Logger
	sender       Sender
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	AppConfig     *config.Config
	CustomConfig  *Config
	Sender        Sender
	Logger        logger.Logger
	Observability *observability.Observability
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", WorkerName, err)
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("%s requires a sender", WorkerName)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}

	return &Handler{
		config:       workerConfig,
		logger:       loggerInstance,
		sender:       opts.Sender,
		errorHandler: errors.NewErrorHandler(loggerInstance),
		obs:          opts.Observability,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if h.obs != nil {
		var span trace.Span
		ctx, span = h.obs.StartSpan(ctx, TaskType)
		defer span.End()
	}

	h.logger.Info("Processing email send request", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"worker":             TaskType,
	})

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		output, err = h.Execute(ctx, input)
		if err == nil {
			if err := h.completeJob(ctx, client, job, output); err != nil {
				return err
			}
			h.record(ctx, "completed", startTime)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
			return nil
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	outcome := h.errorHandler.HandleJobError(ctx, client, job, err)
	h.record(ctx, string(outcome), startTime)
	return err
}

// Execute routes deferred or explicitly prioritised requests to the queue and
// everything else through an immediate send.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	req := email.SendRequest{
		TemplateName: input.TemplateName,
		Recipient:    input.Recipient,
		Variables:    stringifyVariables(input.Variables),
		Priority:     input.Priority,
	}

	var (
		result email.SendResult
		err    error
	)
	if input.Deferred || input.Priority != nil {
		result, err = h.sender.Enqueue(ctx, req)
	} else {
		result, err = h.sender.Send(ctx, req)
	}
	if err != nil {
		return nil, mapDispatchError(input.TemplateName, err)
	}

	h.logger.Info("Email request handled", map[string]interface{}{
		"template": input.TemplateName,
		"status":   string(result.Outcome),
		"entryId":  result.EntryID,
		"worker":   TaskType,
	})

	return &Output{Status: result.Outcome, EntryID: result.EntryID}, nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputValidationFailedError(fmt.Sprintf("unreadable job variables: %v", err))
	}

	result, err := inputSchema.Validate(variables)
	if err != nil {
		return nil, errors.NewInputValidationFailedError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInputValidationFailedError(fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewInputValidationFailedError(err.Error())
	}
	if !validation.ValidateEmail(input.Recipient) {
		return nil, errors.NewInputValidationFailedError(fmt.Sprintf("recipient: invalid email address %q", input.Recipient))
	}

	return &input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return err
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return err
	}
	return nil
}

func (h *Handler) record(ctx context.Context, status string, startTime time.Time) {
	if h.obs == nil {
		return
	}
	h.obs.RecordJobProcessed(ctx, TaskType, status)
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(startTime))
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}

func mapDispatchError(templateName string, err error) error {
	switch {
	case stderrors.Is(err, email.ErrTemplateNotFound):
		return errors.NewTemplateNotFoundError(templateName)
	case stderrors.Is(err, email.ErrStoreUnavailable):
		return errors.NewStoreUnavailableError(err)
	default:
		return err
	}
}

func stringifyVariables(vars map[string]interface{}) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
