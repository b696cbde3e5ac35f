package emailqueuemaintenance

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"portal-mailer/internal/common/config"
	"portal-mailer/internal/common/errors"
	"portal-mailer/internal/common/logger"
	"portal-mailer/internal/common/metrics"
	"portal-mailer/internal/common/observability"
	"portal-mailer/internal/email"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "email.queue.maintenance"
	WorkerName = "email-queue-maintenance"
)

type Handler struct {
	config       *Config
	logger       logger.Logger
	maintainer   email.Maintainer
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	AppConfig     *config.Config
	CustomConfig  *Config
	Maintainer    email.Maintainer
	Logger        logger.Logger
	Observability *observability.Observability
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", WorkerName, err)
	}
	if opts.Maintainer == nil {
		return nil, fmt.Errorf("%s requires a maintainer", WorkerName)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}

	return &Handler{
		config:       workerConfig,
		logger:       loggerInstance,
		maintainer:   opts.Maintainer,
		errorHandler: errors.NewErrorHandler(loggerInstance),
		obs:          opts.Observability,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.run(ctx, job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
		outcome := h.errorHandler.HandleJobError(ctx, client, job, err)
		if h.obs != nil {
			h.obs.RecordJobProcessed(ctx, TaskType, string(outcome))
		}
		return err
	}

	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("build complete command: %w", err)
	}
	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return err
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	if h.obs != nil {
		h.obs.RecordJobProcessed(ctx, TaskType, "completed")
		h.obs.RecordJobDuration(ctx, TaskType, time.Since(startTime))
	}
	return nil
}

func (h *Handler) run(ctx context.Context, job entities.Job) (*Output, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputValidationFailedError(err.Error())
	}
	result, err := inputSchema.Validate(variables)
	if err != nil {
		return nil, errors.NewInputValidationFailedError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInputValidationFailedError(strings.Join(result.GetErrorMessages(), "; "))
	}

	return h.Execute(ctx, &Input{Action: variables["action"].(string)})
}

// Execute runs the requested maintenance action once.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	action := strings.ToLower(strings.TrimSpace(input.Action))

	switch action {
	case ActionSweep:
		res, err := h.maintainer.Sweep(ctx)
		if err != nil {
			return nil, storeError(err)
		}
		h.logger.Info("On-demand sweep finished", map[string]interface{}{
			"selected": res.Selected,
			"sent":     res.Sent,
			"failed":   res.Failed,
			"skipped":  res.Skipped,
		})
		return &Output{
			Action:      action,
			Skipped:     res.Skipped,
			SkipReason:  res.SkipReason,
			Selected:    res.Selected,
			Sent:        res.Sent,
			Retried:     res.Retried,
			Failed:      res.Failed,
			RateLimited: res.RateLimited,
		}, nil

	case ActionPurge:
		purged, err := h.maintainer.PurgeExpired(ctx)
		if err != nil {
			return nil, storeError(err)
		}
		h.logger.Info("On-demand retention sweep finished", map[string]interface{}{"purged": purged})
		return &Output{Action: action, Purged: purged}, nil

	default:
		return nil, errors.NewInvalidActionError(input.Action)
	}
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func storeError(err error) error {
	if stderrors.Is(err, email.ErrStoreUnavailable) {
		return errors.NewStoreUnavailableError(err)
	}
	return err
}
