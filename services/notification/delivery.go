package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slotkeeper/models"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// Pusher sends FCM messages. *messaging.Client satisfies it.
type Pusher interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Mailer hands a rendered message to the mail collaborator.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer records outgoing mail in the log. Content delivery belongs to an
// external mail service.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, to, subject, body string) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Mail queued",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("bodyBytes", len(body)))
	return nil
}

// ProviderLookup resolves the provider a notification is about.
type ProviderLookup interface {
	GetByID(ctx context.Context, id string) (*models.Provider, error)
}

// Dispatcher delivers notifications: pushes to providers over FCM and mail to
// both parties.
type Dispatcher struct {
	Providers ProviderLookup
	Push      Pusher
	Mail      Mailer
	Logger    *zap.Logger
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

// DeliverSlotEvent pushes a slot lifecycle event to the provider's device.
func (d *Dispatcher) DeliverSlotEvent(ctx context.Context, p models.EventPayload) error {
	if p.Type == models.EventCreated && p.BookingID != "" {
		// The booked event of the same booking carries the push.
		return nil
	}
	title, body := renderEvent(p)
	data := map[string]string{
		"type":       "slot_" + string(p.Type),
		"role":       RoleProvider,
		"providerId": p.ProviderID,
	}
	if p.BookingID != "" {
		data["bookingId"] = p.BookingID
	}
	return d.SendProviderPushNotification(ctx, p.ProviderID, title, body, data)
}

// DeliverBooking mails the recipient; provider recipients also get a push.
func (d *Dispatcher) DeliverBooking(ctx context.Context, n models.BookingNotification) error {
	if len(n.Bookings) == 0 {
		return nil
	}
	subject, body := renderBooking(n)

	if n.RecipientEmail != "" && d.Mail != nil {
		if err := d.Mail.Send(ctx, n.RecipientEmail, subject, body); err != nil {
			return fmt.Errorf("DeliverBooking: mail to %s failed: %w", n.RecipientRole, err)
		}
	}

	if n.RecipientRole != RoleProvider {
		return nil
	}
	return d.SendProviderPushNotification(ctx, n.ProviderID, subject, firstLine(body), map[string]string{
		"type":      string(n.Kind),
		"role":      RoleProvider,
		"bookingId": n.Bookings[0].ID,
		"serialKey": n.Bookings[0].SerialKey,
	})
}

// SendProviderPushNotification looks up a provider's FCM token and sends a push.
// A provider without a token is skipped silently.
func (d *Dispatcher) SendProviderPushNotification(
	ctx context.Context,
	providerID, title, body string,
	data map[string]string,
) error {
	if d.Push == nil || d.Providers == nil {
		return nil
	}
	p, err := d.Providers.GetByID(ctx, providerID)
	if err != nil {
		return fmt.Errorf("SendProviderPushNotification: could not find provider %s: %w", providerID, err)
	}
	token := p.Security.FCMToken
	if token == "" {
		d.logger().Debug("Provider has no FCM token", zap.String("providerId", providerID))
		return nil
	}

	if _, ok := data["role"]; !ok {
		data["role"] = RoleProvider
	}

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
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

	if _, err := d.Push.Send(ctx, msg); err != nil {
		return fmt.Errorf("SendProviderPushNotification: failed to send FCM message: %w", err)
	}
	return nil
}

func renderEvent(p models.EventPayload) (string, string) {
	when := ""
	if !p.Start.IsZero() {
		when = " at " + p.Start.Format("Mon Jan 2 15:04")
	}
	slots := len(p.SlotIDs)
	switch p.Type {
	case models.EventCreated:
		return "Availability added", fmt.Sprintf("%d slot%s added to your schedule%s.", slots, plural(slots), when)
	case models.EventBooked:
		return "New booking", fmt.Sprintf("Booking %s was made%s.", p.SerialKey, when)
	case models.EventUnbooked:
		return "Slot released", fmt.Sprintf("Booking %s was cancelled; the slot%s is open again.", p.SerialKey, when)
	case models.EventUpdated:
		return "Schedule updated", fmt.Sprintf("Changes to your schedule%s: %s.", when, strings.Join(p.Changes, ", "))
	case models.EventDeleted:
		return "Availability removed", fmt.Sprintf("%d slot%s removed from your schedule.", slots, plural(slots))
	default:
		return "Schedule update", "Your schedule changed."
	}
}

func renderBooking(n models.BookingNotification) (string, string) {
	b := n.Bookings[0]
	when := b.StartTime.Format("Monday, January 2 at 15:04")
	switch n.Kind {
	case models.NotifyConfirmation:
		return "Booking confirmed " + b.SerialKey, fmt.Sprintf("Your booking %s on %s is confirmed.", b.SerialKey, when)
	case models.NotifyNewRequest:
		return "New booking request " + b.SerialKey, fmt.Sprintf("%s requested %s. Confirm or decline it.", b.GuestName, when)
	case models.NotifyCancellation:
		return "Booking cancelled " + b.SerialKey, fmt.Sprintf("Booking %s on %s was cancelled.", b.SerialKey, when)
	case models.NotifyCompletion:
		return "Booking completed " + b.SerialKey, fmt.Sprintf("Booking %s on %s is complete. Thank you!", b.SerialKey, when)
	case models.NotifyModified:
		return "Booking updated " + b.SerialKey, fmt.Sprintf("Booking %s on %s changed: %s.", b.SerialKey, when, strings.Join(n.ChangedFields, ", "))
	case models.NotifyReminder:
		return "Upcoming booking " + b.SerialKey, fmt.Sprintf("Reminder: booking %s starts %s.", b.SerialKey, when)
	case models.NotifySeriesSummary:
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d weekly bookings were scheduled:\n", len(n.Bookings))
		for _, bk := range n.Bookings {
			fmt.Fprintf(&sb, "- %s  %s (%s)\n", bk.StartTime.Format(time.RFC1123), bk.SerialKey, bk.Status)
		}
		return fmt.Sprintf("%d bookings scheduled", len(n.Bookings)), sb.String()
	default:
		return "Booking update " + b.SerialKey, fmt.Sprintf("Booking %s on %s changed.", b.SerialKey, when)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// plural returns "s" if n is not 1, otherwise returns an empty string.
func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
