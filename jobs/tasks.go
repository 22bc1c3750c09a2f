// Package jobs runs the background scans that feed dashboard notices:
// the daily expiry scan and the weekly low-stock digest.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/larder-hq/larder/internal/jobs"
	"github.com/larder-hq/larder/internal/realtime"
	"github.com/larder-hq/larder/internal/stock"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpiryScan is the task type for the expiring-stock scan.
	TaskExpiryScan = "stock:expiry_scan"
	// TaskLowStockDigest is the task type for the low-stock digest.
	TaskLowStockDigest = "stock:low_stock_digest"

	// NoticesTable is the change-feed table notices are published on; the
	// gateway broadcasts its events to every connected client.
	NoticesTable = "notices"
)

// Notice is the payload pushed to dashboard clients.
type Notice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Items     []string  `json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiryScanPayload parameterizes one expiry scan run.
type ExpiryScanPayload struct {
	WindowDays int `json:"window_days"`
}

// LowStockDigestPayload parameterizes one digest run.
type LowStockDigestPayload struct {
	Threshold float64 `json:"threshold"`
}

// NewExpiryScanTask constructs an Asynq task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, data), nil
}

// NewLowStockDigestTask constructs an Asynq task.
func NewLowStockDigestTask(payload LowStockDigestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockDigest, data), nil
}

// StockSource is the slice of the stock repository the scans read from.
type StockSource interface {
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]stock.Item, error)
	ListLowStock(ctx context.Context, threshold float64) ([]stock.Item, error)
}

// Publisher pushes notices to the realtime feed.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ChangeEvent) error
}

// Handlers binds task handlers to their dependencies.
type Handlers struct {
	Stocks  StockSource
	Feed    Publisher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// HandleExpiryScan processes TaskExpiryScan tasks: items expiring inside
// the window become one notice on the feed.
func (h Handlers) HandleExpiryScan(ctx context.Context, t *asynq.Task) error {
	tracker := h.Metrics.Track(TaskExpiryScan)
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = 7
	}

	cutoff := time.Now().AddDate(0, 0, payload.WindowDays)
	items, err := h.Stocks.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		return tracker.End(fmt.Errorf("jobs: expiry scan: %w", err))
	}
	if len(items) == 0 {
		return tracker.End(nil)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	notice := Notice{
		Kind:      "expiry",
		Message:   fmt.Sprintf("%d item(s) expire within %d days", len(items), payload.WindowDays),
		Items:     names,
		CreatedAt: time.Now().UTC(),
	}
	h.Logger.Info("expiry scan", slog.Int("items", len(items)), slog.Int("window_days", payload.WindowDays))
	return tracker.End(h.publish(ctx, notice))
}

// HandleLowStockDigest processes TaskLowStockDigest tasks.
func (h Handlers) HandleLowStockDigest(ctx context.Context, t *asynq.Task) error {
	tracker := h.Metrics.Track(TaskLowStockDigest)
	var payload LowStockDigestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	if payload.Threshold <= 0 {
		payload.Threshold = stock.DefaultLowStockThreshold
	}

	items, err := h.Stocks.ListLowStock(ctx, payload.Threshold)
	if err != nil {
		return tracker.End(fmt.Errorf("jobs: low stock digest: %w", err))
	}
	if len(items) == 0 {
		return tracker.End(nil)
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, fmt.Sprintf("%s (%.0f %s)", item.Name, item.Quantity, item.Unit))
	}
	notice := Notice{
		Kind:      "low_stock",
		Message:   fmt.Sprintf("%d item(s) at or below %.0f", len(items), payload.Threshold),
		Items:     names,
		CreatedAt: time.Now().UTC(),
	}
	h.Logger.Info("low stock digest", slog.Int("items", len(items)))
	return tracker.End(h.publish(ctx, notice))
}

func (h Handlers) publish(ctx context.Context, notice Notice) error {
	event, err := realtime.NewChange(realtime.EventCreated, NoticesTable, notice, nil)
	if err != nil {
		return fmt.Errorf("jobs: notice: %w", err)
	}
	if err := h.Feed.Publish(ctx, event); err != nil {
		return fmt.Errorf("jobs: notice: %w", err)
	}
	return nil
}
