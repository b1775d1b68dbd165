package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"carelink/models"
	"carelink/services/notification"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeliverer struct {
	got []models.PushPayload
	err error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, push models.PushPayload) error {
	f.got = append(f.got, push)
	return f.err
}

func TestHandlePushTask(t *testing.T) {
	d := &fakeDeliverer{}
	task, _, err := notification.NewPushTask(models.PushPayload{SubjectID: "sen-1", Type: models.PushSeniorLinked, Title: "Linked"})
	require.NoError(t, err)

	require.NoError(t, handlePushTask(d, zap.NewNop())(context.Background(), task))
	require.Len(t, d.got, 1)
	require.Equal(t, "sen-1", d.got[0].SubjectID)
}

func TestHandlePushTaskRetriesDeliveryErrors(t *testing.T) {
	d := &fakeDeliverer{err: errors.New("fcm down")}
	b, err := json.Marshal(models.PushPayload{SubjectID: "sen-1"})
	require.NoError(t, err)

	err = handlePushTask(d, zap.NewNop())(context.Background(), asynq.NewTask(notification.TypePushSend, b))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandlePushTaskSkipsBadPayload(t *testing.T) {
	d := &fakeDeliverer{}
	err := handlePushTask(d, zap.NewNop())(context.Background(), asynq.NewTask(notification.TypePushSend, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, d.got)
}

type fakeJanitor struct{ calls int }

func (f *fakeJanitor) Sweep(ctx context.Context) (int, error) {
	f.calls++
	return 1, nil
}

type fakeWorkflows struct{ retention time.Duration }

func (f *fakeWorkflows) Sweep(olderThan time.Duration) int {
	f.retention = olderThan
	return 0
}

func TestJobs(t *testing.T) {
	j := &fakeJanitor{}
	w := &fakeWorkflows{}

	runJanitor(j, zap.NewNop())
	runWorkflowSweep(w, time.Hour, zap.NewNop())
	require.Equal(t, 1, j.calls)
	require.Equal(t, time.Hour, w.retention)

	_, err := StartJobs(JobConfig{JanitorSchedule: "not a schedule"}, j, w, zap.NewNop())
	require.Error(t, err)

	c, err := StartJobs(JobConfig{JanitorSchedule: "@every 1h", WorkflowRetention: time.Hour}, j, w, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, c.Entries(), 2)
	<-c.Stop().Done()
}
