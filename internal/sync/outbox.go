package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/crm-sync-engine/internal/metrics"
	"github.com/smartdevs17/crm-sync-engine/internal/models"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Backoff bounds for failed propagation attempts
const (
	baseBackoff = 30 * time.Second
	maxBackoff  = 15 * time.Minute
)

// retryBackoff returns the delay before the given attempt number is retried.
// The delay doubles per attempt from baseBackoff and saturates at maxBackoff;
// the shift count is bounded so a large attempt count cannot overflow the
// duration arithmetic.
func retryBackoff(attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}
	backoff := baseBackoff << shift
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// Outbox drains pending change log entries to the CRM. Each entry fails or
// succeeds on its own; one bad entry never blocks the rest of the batch.
type Outbox struct {
	storage        storage.Storage
	writer         *Writer
	logger         *logrus.Logger
	metricsManager *metrics.Manager
}

// NewOutbox creates the outbox processor
func NewOutbox(store storage.Storage, writer *Writer) *Outbox {
	return &Outbox{
		storage: store,
		writer:  writer,
		logger:  utils.GetLogger(),
	}
}

// SetMetricsManager wires metrics collection into the processor
func (o *Outbox) SetMetricsManager(manager *metrics.Manager) {
	o.metricsManager = manager
}

// ProcessPending runs one drain pass: select eligible entries oldest first,
// propagate each, and requeue failures with exponential backoff. An entry
// whose attempt count reaches the configured cap moves to the terminal
// failed status and is never selected again.
func (o *Outbox) ProcessPending(ctx context.Context) (*models.DrainResult, error) {
	start := time.Now()
	result := &models.DrainResult{Errors: make(map[string]string)}

	cfg, err := o.storage.LoadSyncConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		result.Duration = time.Since(start)
		return result, nil
	}

	now := time.Now().UTC()
	entries, err := o.storage.PendingChangeLogs(ctx, cfg.BatchSize, cfg.MaxRetries, now)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		result.Processed++

		if !cfg.ObjectEnabled(entry.ObjectAPIName) {
			if err := o.storage.MarkChangeLogSkipped(ctx, entry.ID, "sync disabled for object"); err != nil {
				o.logger.WithFields(logrus.Fields{"id": entry.ID, "error": err.Error()}).Error("Failed to mark change log skipped")
			}
			result.Skipped++
			continue
		}

		if err := o.storage.MarkChangeLogSyncing(ctx, entry.ID); err != nil {
			result.Errors[entry.ID] = err.Error()
			result.Failed++
			continue
		}

		status, reason, err := o.writer.Propagate(ctx, entry, cfg)
		if err != nil {
			o.requeue(ctx, entry, cfg, err)
			result.Errors[entry.ID] = err.Error()
			result.Failed++
			continue
		}

		switch status {
		case models.SyncStatusSkipped:
			if err := o.storage.MarkChangeLogSkipped(ctx, entry.ID, reason); err != nil {
				o.logger.WithFields(logrus.Fields{"id": entry.ID, "error": err.Error()}).Error("Failed to mark change log skipped")
			}
			result.Skipped++
		default:
			if err := o.storage.MarkChangeLogCompleted(ctx, entry.ID, time.Now().UTC()); err != nil {
				o.logger.WithFields(logrus.Fields{"id": entry.ID, "error": err.Error()}).Error("Failed to mark change log completed")
			}
			result.Succeeded++
		}
	}

	result.Duration = time.Since(start)

	if o.metricsManager != nil {
		if stats, err := o.storage.GetStorageStats(ctx); err == nil {
			o.metricsManager.SetOutboxDepth(stats.PendingChanges)
		}
	}

	if result.Processed > 0 {
		o.logger.WithFields(logrus.Fields{
			"processed": result.Processed,
			"succeeded": result.Succeeded,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		}).Info("Outbox drain completed")
	}
	return result, nil
}

// requeue records a failed attempt. The backoff doubles per attempt from
// baseBackoff up to maxBackoff; the entry that hits the cap is parked as
// failed and logged once with its final error.
func (o *Outbox) requeue(ctx context.Context, entry *models.ChangeLogEntry, cfg *models.SyncConfig, cause error) {
	attempts := entry.Attempts + 1
	exhausted := attempts >= cfg.MaxRetries

	var nextAttempt *time.Time
	if !exhausted {
		at := time.Now().UTC().Add(retryBackoff(attempts))
		nextAttempt = &at
	}

	if err := o.storage.RequeueChangeLog(ctx, entry.ID, attempts, cause.Error(), nextAttempt, exhausted); err != nil {
		o.logger.WithFields(logrus.Fields{
			"id":    entry.ID,
			"error": err.Error(),
		}).Error("Failed to requeue change log entry")
		return
	}

	if o.metricsManager != nil {
		o.metricsManager.RecordOutboxRetry()
	}

	if exhausted {
		if o.metricsManager != nil {
			o.metricsManager.RecordOutboxExhausted()
		}
		o.logger.WithFields(logrus.Fields{
			"id":       entry.ID,
			"object":   entry.ObjectAPIName,
			"record":   entry.RecordID,
			"attempts": attempts,
			"error":    cause.Error(),
		}).Error("RETRY_EXHAUSTED")
		return
	}

	o.logger.WithFields(logrus.Fields{
		"id":           entry.ID,
		"object":       entry.ObjectAPIName,
		"attempts":     attempts,
		"next_attempt": nextAttempt.Format(time.RFC3339),
		"error":        utils.ErrorCode(cause),
	}).Warn("Change log entry requeued")
}
