package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-oms/meridian-oms/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStockAlert is the task type for low-stock notifications.
	TaskTypeLowStockAlert = "inventory:low_stock"
)

// LowStockItem is one product whose count dropped under the alert threshold.
type LowStockItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// LowStockAlertPayload carries the products to alert on.
type LowStockAlertPayload struct {
	Items []LowStockItem `json:"items"`
}

// NewLowStockAlertTask constructs an Asynq task.
func NewLowStockAlertTask(payload LowStockAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockAlert, data, asynq.Queue(QueueDefault)), nil
}

// LowStockAlertJob turns queued low-stock payloads into operator alerts.
type LowStockAlertJob struct {
	Logger  *slog.Logger
	printer *message.Printer
}

// NewLowStockAlertJob wires the alert handler.
func NewLowStockAlertJob(logger *slog.Logger) *LowStockAlertJob {
	return &LowStockAlertJob{
		Logger:  logger,
		printer: message.NewPrinter(language.English),
	}
}

// Handle processes TaskTypeLowStockAlert tasks.
func (j *LowStockAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("low stock alert: handler not configured")
	}
	var payload LowStockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := j.logger()
	for _, item := range payload.Items {
		logger.Warn("low stock",
			slog.Int64("product_id", item.ProductID),
			slog.String("alert", j.Format(item)))
	}
	return nil
}

// Format renders one alert line for humans.
func (j *LowStockAlertJob) Format(item LowStockItem) string {
	p := j.printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	return p.Sprintf("%s is down to %d units", item.Name, item.Remaining)
}

func (j *LowStockAlertJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeLowStockAlert))
	}
	return slog.Default().With(slog.String("job", TaskTypeLowStockAlert))
}

// LowStockNotifier enqueues alert tasks for the worker. It satisfies the
// ledger's AlertSink; enqueue failures are logged and swallowed because
// alerting must never fail a stock movement.
type LowStockNotifier struct {
	Client *Client
	Logger *slog.Logger
}

// NotifyLowStock queues one alert task covering the whole batch.
func (n *LowStockNotifier) NotifyLowStock(ctx context.Context, changes []inventory.StockChange) {
	if n == nil || n.Client == nil || len(changes) == 0 {
		return
	}
	payload := LowStockAlertPayload{Items: make([]LowStockItem, 0, len(changes))}
	for _, change := range changes {
		payload.Items = append(payload.Items, LowStockItem{
			ProductID: change.ProductID,
			Name:      change.Name,
			Remaining: change.After,
		})
	}
	if _, err := n.Client.EnqueueLowStockAlert(ctx, payload); err != nil && n.Logger != nil {
		n.Logger.Warn("enqueue low stock alert", slog.Any("error", err))
	}
}
