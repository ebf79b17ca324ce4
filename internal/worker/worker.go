// Package worker processes alerts submitted asynchronously over the bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Processor turns an alert into a report.
type Processor interface {
	Process(ctx context.Context, alert *domain.Alert, reportID string) *domain.Report
}

// Worker consumes TopicAlertSubmitted, processes each alert, archives
// the report, and publishes it on TopicAlertProcessed.
type Worker struct {
	bus       domain.EventBus
	repo      domain.ReportRepository
	processor Processor
	logger    *slog.Logger

	jobs         chan *domain.Message
	subscription domain.Subscription
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of alerts processed concurrently.
	WorkerCount int
}

// NewWorker creates a new async worker. repo may be nil.
func NewWorker(bus domain.EventBus, repo domain.ReportRepository, processor Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		processor: processor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submitted alerts and launches the worker pool.
func (w *Worker) Start(cfg Config) error {
	if w.started {
		return fmt.Errorf("worker already started")
	}

	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.jobs = make(chan *domain.Message)
	for i := 0; i < count; i++ {
		w.wg.Add(1)
		go w.loop()
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAlertSubmitted, w.enqueue)
	if err != nil {
		w.cancel()
		w.wg.Wait()
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicAlertSubmitted, err)
	}
	w.subscription = sub
	w.started = true

	w.logger.Info("workers started",
		"worker_count", count,
		"topic", domain.TopicAlertSubmitted,
	)
	return nil
}

// enqueue hands a message to the pool, blocking while all workers are
// busy so the bus applies backpressure.
func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case w.jobs <- msg:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.jobs:
			if err := w.handle(w.ctx, msg); err != nil {
				w.logger.Error("failed to process alert message",
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// handle processes one submitted alert.
func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var sub domain.AlertSubmission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		return fmt.Errorf("failed to parse alert submission: %w", err)
	}

	reportID := sub.ReportID
	if reportID == "" {
		reportID = msg.ID
	}

	log := w.logger.With(
		"report_id", reportID,
		"alert_id", sub.Alert.AlertID,
		"trace_id", sub.TraceID,
	)

	var report *domain.Report
	if err := sub.Alert.Validate(); err != nil {
		report = &domain.Report{
			ID:             reportID,
			AlertID:        sub.Alert.AlertID,
			CustomerName:   sub.Alert.CustomerName,
			Status:         domain.ReportFailed,
			Findings:       []domain.Finding{},
			AIAnalysis:     domain.FallbackAnalysis(),
			AnalysisStatus: domain.AnalysisError,
			AnalysisError:  err.Error(),
			AuditLogs:      []domain.AuditEvent{},
			CreatedAt:      time.Now().UTC(),
		}
		log.Warn("rejected queued alert", "error", err)
	} else {
		report = w.processor.Process(ctx, &sub.Alert, reportID)
	}

	if w.repo != nil {
		if err := w.repo.SaveReport(ctx, report); err != nil {
			log.Error("failed to save report", "error", err)
		}
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := w.bus.Publish(ctx, domain.TopicAlertProcessed, payload); err != nil {
		log.Error("failed to publish processed report", "error", err)
	}

	log.Info("queued alert processed",
		"status", report.Status,
		"analysis_status", report.AnalysisStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	if w.subscription != nil {
		if err := w.subscription.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", w.subscription.Topic(),
				"error", err,
			)
		}
		w.subscription = nil
	}

	w.cancel()
	w.wg.Wait()

	w.logger.Info("workers stopped")
	return nil
}

// Stats describes the running worker.
type Stats struct {
	Running bool   `json:"running"`
	Topic   string `json:"topic,omitempty"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	if w.subscription == nil {
		return Stats{}
	}
	return Stats{Running: true, Topic: w.subscription.Topic()}
}
