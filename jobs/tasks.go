package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockIntegrity triggers the nightly ledger integrity sweep.
	TaskStockIntegrity = "stock:integrity"
)

// StockIntegrityPayload carries scheduling metadata.
type StockIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockIntegrityTask constructs an Asynq task for the integrity sweep.
func NewStockIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewStockIntegrityHandler builds the handler for TaskStockIntegrity tasks.
func NewStockIntegrityHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload StockIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return RunStockIntegrityCheck(ctx, pool, logger)
	}
}
