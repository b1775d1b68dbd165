package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"carelink/models"
	"carelink/services/notification"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Deliverer sends a queued push to its subject's devices.
type Deliverer interface {
	Deliver(ctx context.Context, push models.PushPayload) error
}

// InitPushWorker runs the async push worker in the background and returns the server
// so the caller can shut it down.
func InitPushWorker(redisOpts asynq.RedisClientOpt, deliverer Deliverer, logger *zap.Logger) *asynq.Server {
	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(notification.TypePushSend, handlePushTask(deliverer, logger))

	// Start async worker with retry logic
	go func() {
		logger.Info("starting push worker")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			err := srv.Run(mux)
			if err == nil {
				break
			}
			logger.Error("push worker failed to start",
				zap.Int("attempt", attempts), zap.Int("maxAttempts", maxAttempts), zap.Error(err))
			if attempts == maxAttempts {
				logger.Fatal("push worker: max retry attempts reached")
			}
			time.Sleep(time.Duration(attempts*2) * time.Second)
		}
	}()
	return srv
}

func handlePushTask(deliverer Deliverer, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p models.PushPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("invalid push payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if p.SubjectID == "" {
			logger.Warn("push without subject dropped", zap.String("type", p.Type))
			return nil
		}

		logger.Debug("delivering push", zap.String("subjectId", p.SubjectID), zap.String("type", p.Type))
		if err := deliverer.Deliver(ctx, p); err != nil {
			logger.Error("failed to deliver push", zap.String("subjectId", p.SubjectID), zap.Error(err))
			return err
		}
		return nil
	}
}
