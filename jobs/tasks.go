package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stocklane/stocklane/internal/adjustment"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAdjustmentGenerate derives the compensating adjustment for a
	// posted stock take.
	TaskTypeAdjustmentGenerate = "adjustment:generate"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// AdjustmentGeneratePayload identifies the posted document to derive from.
type AdjustmentGeneratePayload struct {
	DocNo    string `json:"doc_no"`
	SiteCode string `json:"site_code"`
	ActorID  int64  `json:"actor_id"`
}

// NewAdjustmentGenerateTask constructs an Asynq task.
func NewAdjustmentGenerateTask(payload AdjustmentGeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAdjustmentGenerate, data, asynq.MaxRetry(5)), nil
}

// AdjustmentService is the slice of the stock take service the worker needs.
type AdjustmentService interface {
	GenerateAdjustment(ctx context.Context, docNo string, actorID int64) (*adjustment.Document, error)
}

// NewAdjustmentGenerateHandler processes TaskTypeAdjustmentGenerate tasks.
// Generation is idempotent, so redelivery after a handler crash is safe.
func NewAdjustmentGenerateHandler(svc AdjustmentService, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AdjustmentGeneratePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		doc, err := svc.GenerateAdjustment(ctx, payload.DocNo, payload.ActorID)
		if err != nil {
			logger.Error("adjustment generation failed",
				slog.String("doc_no", payload.DocNo), slog.Any("error", err))
			return err
		}
		if doc == nil {
			logger.Info("no adjustment required", slog.String("doc_no", payload.DocNo))
			return nil
		}
		logger.Info("adjustment generated",
			slog.String("doc_no", payload.DocNo),
			slog.String("adjustment_no", doc.DocNo),
			slog.Int("lines", len(doc.Lines)))
		return nil
	}
}

// NewIdempotencyCleanupTask constructs the cleanup cron task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// KeyCleaner prunes stored idempotency keys older than the given age.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewIdempotencyCleanupHandler processes TaskTypeIdempotencyCleanup tasks.
func NewIdempotencyCleanupHandler(cleaner KeyCleaner, retain time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := cleaner.Cleanup(ctx, retain); err != nil {
			logger.Error("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
