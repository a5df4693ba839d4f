package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/models"
	"slotkeeper/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskEnqueuer is the part of *asynq.Client the queue notifier needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewQueueNotifier returns Hooks that hand every notification to the asynq
// worker, keeping delivery latency off the request path.
func NewQueueNotifier(client TaskEnqueuer, logger *zap.Logger) Hooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &notifier{sink: &queueSink{client: client, logger: logger}, now: time.Now}
}

type queueSink struct {
	client TaskEnqueuer
	logger *zap.Logger
}

func (q *queueSink) slotEvent(ctx context.Context, p models.EventPayload) error {
	task, err := tasks.NewSlotEventTask(p)
	if err != nil {
		return fmt.Errorf("build slot event task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s event for %s: %w", p.Type, p.ProviderID, err)
	}
	return nil
}

func (q *queueSink) booking(ctx context.Context, n models.BookingNotification) error {
	task, err := tasks.NewBookingNotificationTask(n)
	if err != nil {
		return fmt.Errorf("build booking notification task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", n.Kind, n.RecipientRole, err)
	}
	return nil
}

func (q *queueSink) reminder(ctx context.Context, p models.ReminderPayload) error {
	task, opts, err := tasks.NewReminderTask(p)
	if err != nil {
		return fmt.Errorf("build reminder task: %w", err)
	}
	_, err = q.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		q.logger.Debug("Reminder already scheduled", zap.String("bookingId", p.BookingID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue reminder for %s: %w", p.BookingID, err)
	}
	return nil
}

// NewDirectNotifier returns Hooks that deliver synchronously through d. Used
// when NOTIFICATIONS_ASYNC is off; reminders are not supported without the queue.
func NewDirectNotifier(d *Dispatcher) Hooks {
	return &notifier{sink: &directSink{d: d}, now: time.Now}
}

type directSink struct {
	d *Dispatcher
}

func (s *directSink) slotEvent(ctx context.Context, p models.EventPayload) error {
	return s.d.DeliverSlotEvent(ctx, p)
}

func (s *directSink) booking(ctx context.Context, n models.BookingNotification) error {
	return s.d.DeliverBooking(ctx, n)
}

func (s *directSink) reminder(_ context.Context, p models.ReminderPayload) error {
	s.d.logger().Info("Reminder skipped, no task queue configured",
		zap.String("bookingId", p.BookingID),
		zap.Time("fireAt", p.FireAt))
	return nil
}
