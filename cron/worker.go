package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"slotkeeper/config"
	"slotkeeper/models"
	"slotkeeper/services/notification"
	"slotkeeper/services/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// BookingReader reloads a booking before a delayed notification goes out.
type BookingReader interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

// SlotCleaner runs the periodic sweep of past slots.
type SlotCleaner interface {
	CleanupPastSlots(ctx context.Context) (int, error)
}

// Deps are the collaborators the task handlers call into.
type Deps struct {
	Dispatcher *notification.Dispatcher
	Bookings   BookingReader
	Slots      SlotCleaner
	Logger     *zap.Logger
}

// Worker owns the asynq server and the periodic scheduler.
type Worker struct {
	srv       *asynq.Server
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// RedisOpt is the asynq connection on the queue database.
func RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}
}

// NewMux registers a handler for every task type the engine enqueues.
func NewMux(d Deps) *asynq.ServeMux {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeSlotEvent, handleSlotEvent(d))
	mux.HandleFunc(tasks.TypeBookingNotification, handleBookingNotification(d))
	mux.HandleFunc(tasks.TypeSendReminder, handleReminderTask(d))
	mux.HandleFunc(tasks.TypeCleanupSlots, handleCleanupTask(d))
	return mux
}

// InitWorker runs the async worker and the cleanup schedule in background.
func InitWorker(d Deps, loc *time.Location) (*Worker, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	redisOpts := RedisOpt()

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{Location: loc})
	if _, err := scheduler.Register(config.AppConfig.CleanupCron, tasks.NewCleanupTask()); err != nil {
		return nil, fmt.Errorf("register cleanup schedule %q: %w", config.AppConfig.CleanupCron, err)
	}

	w := &Worker{srv: srv, scheduler: scheduler, logger: d.Logger}
	mux := NewMux(d)

	go monitorRedisConnection(d.Logger)

	// Start async worker with retry logic
	go func() {
		d.Logger.Info("Starting async worker")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				d.Logger.Error("Async worker failed to start",
					zap.Int("attempt", attempts),
					zap.Int("maxAttempts", maxAttempts),
					zap.Error(err))

				if attempts == maxAttempts {
					d.Logger.Fatal("Max retry attempts reached for async worker")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()

	go func() {
		if err := scheduler.Run(); err != nil {
			d.Logger.Error("Cleanup scheduler stopped", zap.Error(err))
		}
	}()

	return w, nil
}

// Shutdown stops the scheduler and drains in-flight tasks.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.srv.Shutdown()
	w.logger.Info("Async worker stopped")
}

func handleSlotEvent(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p models.EventPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			d.Logger.Error("Invalid slot event payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := d.Dispatcher.DeliverSlotEvent(ctx, p); err != nil {
			d.Logger.Warn("Slot event delivery failed",
				zap.String("providerId", p.ProviderID),
				zap.String("type", string(p.Type)),
				zap.Error(err))
			return err
		}
		return nil
	}
}

func handleBookingNotification(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var n models.BookingNotification
		if err := json.Unmarshal(task.Payload(), &n); err != nil {
			d.Logger.Error("Invalid booking notification payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := d.Dispatcher.DeliverBooking(ctx, n); err != nil {
			d.Logger.Warn("Booking notification delivery failed",
				zap.String("kind", string(n.Kind)),
				zap.String("role", n.RecipientRole),
				zap.Error(err))
			return err
		}
		return nil
	}
}

// handleReminderTask re-reads the booking; a reminder fires only while the
// booking is still CONFIRMED.
func handleReminderTask(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p models.ReminderPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			d.Logger.Error("Invalid reminder payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		b, err := d.Bookings.GetBooking(ctx, p.BookingID)
		if err != nil {
			d.Logger.Warn("Reminder booking lookup failed", zap.String("bookingId", p.BookingID), zap.Error(err))
			return err
		}
		if b.Status != models.BookingStatusConfirmed {
			d.Logger.Debug("Reminder dropped",
				zap.String("bookingId", b.ID),
				zap.String("status", string(b.Status)))
			return nil
		}

		return d.Dispatcher.DeliverBooking(ctx, models.BookingNotification{
			Kind:           models.NotifyReminder,
			RecipientEmail: b.GuestEmail,
			RecipientRole:  notification.RoleGuest,
			ProviderID:     b.ProviderID,
			Bookings:       []models.Booking{*b},
		})
	}
}

func handleCleanupTask(d Deps) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := d.Slots.CleanupPastSlots(ctx)
		if err != nil {
			d.Logger.Error("Past slot cleanup failed", zap.Int("removed", n), zap.Error(err))
			return err
		}
		d.Logger.Info("Past slot cleanup finished", zap.Int("removed", n))
		return nil
	}
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func monitorRedisConnection(logger *zap.Logger) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	})

	ctx := context.Background()

	for {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Queue Redis connection lost", zap.Error(err))
		}
		time.Sleep(10 * time.Second)
	}
}
