package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	userRepo "carelink/database/repository/user"
	"carelink/models"
	"carelink/utils"

	"firebase.google.com/go/v4/messaging"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypePushSend = "push:send"

// NotificationService registers device tokens and delivers pushes to a subject's devices.
type NotificationService interface {
	RegisterDevice(ctx context.Context, subjectID, token string) error
	UnregisterDevice(ctx context.Context, subjectID, token string) error
	Enqueue(ctx context.Context, push models.PushPayload) error
	Deliver(ctx context.Context, push models.PushPayload) error
}

// Messenger is the FCM surface used for delivery; *messaging.Client satisfies it.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Enqueuer is the queue surface used for deferred delivery; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DefaultNotificationService is the production implementation.
type DefaultNotificationService struct {
	repo      userRepo.UserRepository
	queue     Enqueuer
	messenger Messenger
	logger    *zap.Logger
}

// NewDefaultNotificationService wires the service. A nil queue delivers inline and a
// nil messenger only logs.
func NewDefaultNotificationService(
	repo userRepo.UserRepository,
	queue Enqueuer,
	messenger Messenger,
	logger *zap.Logger,
) (*DefaultNotificationService, error) {
	if repo == nil {
		return nil, fmt.Errorf("notification service initialization error: user repository is nil")
	}
	return &DefaultNotificationService{
		repo:      repo,
		queue:     queue,
		messenger: messenger,
		logger:    logger,
	}, nil
}

func (s *DefaultNotificationService) RegisterDevice(ctx context.Context, subjectID, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty device token", utils.ErrBadRequest)
	}
	if err := s.repo.ArrayUnion(ctx, subjectID, models.FieldDeviceTokens, token); err != nil {
		return fmt.Errorf("RegisterDevice: %w", translateStoreError(err))
	}
	return nil
}

func (s *DefaultNotificationService) UnregisterDevice(ctx context.Context, subjectID, token string) error {
	if err := s.repo.ArrayRemove(ctx, subjectID, models.FieldDeviceTokens, token); err != nil {
		return fmt.Errorf("UnregisterDevice: %w", translateStoreError(err))
	}
	return nil
}

// NewPushTask builds the asynq task carrying push.
func NewPushTask(push models.PushPayload) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(push)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypePushSend, b)
	opts := []asynq.Option{asynq.MaxRetry(5)}
	return task, opts, nil
}

func (s *DefaultNotificationService) Enqueue(ctx context.Context, push models.PushPayload) error {
	if s.queue == nil {
		return s.Deliver(ctx, push)
	}
	task, opts, err := NewPushTask(push)
	if err != nil {
		return fmt.Errorf("Enqueue: failed to encode push: %w", err)
	}
	info, err := s.queue.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	s.logger.Debug("push enqueued", zap.String("taskId", info.ID), zap.String("subjectId", push.SubjectID))
	return nil
}

// Deliver sends push to every registered device of its subject and prunes tokens FCM
// reports as unregistered. A subject without devices is not an error.
func (s *DefaultNotificationService) Deliver(ctx context.Context, push models.PushPayload) error {
	u, err := s.repo.GetByID(ctx, push.SubjectID)
	if err != nil {
		return fmt.Errorf("Deliver: could not load subject %s: %w", push.SubjectID, err)
	}
	if u == nil || len(u.DeviceTokens) == 0 {
		s.logger.Debug("push skipped, no devices", zap.String("subjectId", push.SubjectID))
		return nil
	}
	if s.messenger == nil {
		s.logger.Info("push (messaging disabled)",
			zap.String("subjectId", push.SubjectID), zap.String("type", push.Type), zap.String("title", push.Title))
		return nil
	}

	data := map[string]string{"type": push.Type, "role": string(u.Role)}
	for k, v := range push.Data {
		data[k] = v
	}

	msg := &messaging.MulticastMessage{
		Tokens: u.DeviceTokens,
		Notification: &messaging.Notification{
			Title: push.Title,
			Body:  push.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "high_priority",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	resp, err := s.messenger.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("Deliver: failed to send FCM message: %w", err)
	}

	var stale []string
	for i, r := range resp.Responses {
		if r.Success || r.Error == nil {
			continue
		}
		if messaging.IsUnregistered(r.Error) {
			stale = append(stale, u.DeviceTokens[i])
			continue
		}
		s.logger.Warn("push to device failed", zap.String("subjectId", u.ID), zap.Error(r.Error))
	}
	if len(stale) > 0 {
		if err := s.repo.ArrayRemove(ctx, u.ID, models.FieldDeviceTokens, stale...); err != nil {
			s.logger.Warn("failed to prune stale device tokens", zap.String("subjectId", u.ID), zap.Error(err))
		}
	}

	s.logger.Info("push delivered",
		zap.String("subjectId", u.ID), zap.Int("success", resp.SuccessCount), zap.Int("failure", resp.FailureCount))
	return nil
}

func translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, userRepo.ErrNotFound) {
		return fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
}
