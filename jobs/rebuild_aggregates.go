package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeRebuildAggregates triggers the nightly client counter rebuild.
	TaskTypeRebuildAggregates = "clients:rebuild_aggregates"
)

// RebuildAggregatesPayload carries scheduling metadata.
type RebuildAggregatesPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewRebuildAggregatesTask constructs an Asynq task for the counter rebuild.
func NewRebuildAggregatesTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(RebuildAggregatesPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRebuildAggregates, body, asynq.Queue(QueueDefault)), nil
}

// AggregateRebuilder recomputes client counters from the document tables.
type AggregateRebuilder interface {
	RebuildAggregates(ctx context.Context) error
}

// RebuildAggregatesJob heals client counters. The write paths only maintain
// them best-effort, so this job is the source of truth.
type RebuildAggregatesJob struct {
	Clients AggregateRebuilder
	Logger  *slog.Logger
	clock   func() time.Time
}

// NewRebuildAggregatesJob wires dependencies for the rebuild handler.
func NewRebuildAggregatesJob(clients AggregateRebuilder, logger *slog.Logger) *RebuildAggregatesJob {
	return &RebuildAggregatesJob{
		Clients: clients,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskTypeRebuildAggregates tasks.
func (j *RebuildAggregatesJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Clients == nil {
		return errors.New("rebuild aggregates: handler not configured")
	}
	var payload RebuildAggregatesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger()
	start := j.now()
	logger.Info("starting aggregate rebuild", slog.Time("scheduled_for", payload.ScheduledFor))

	if err := j.Clients.RebuildAggregates(ctx); err != nil {
		logger.Error("rebuild aggregates", slog.Any("error", err))
		return err
	}

	logger.Info("completed aggregate rebuild", slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *RebuildAggregatesJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeRebuildAggregates))
	}
	return slog.Default().With(slog.String("job", TaskTypeRebuildAggregates))
}

func (j *RebuildAggregatesJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
