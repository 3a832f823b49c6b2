// Package notify turns appointment events into patient emails and records each attempt.
package notify

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/events"
	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/storage"
)

type Store interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Processor struct {
	renderer *email.Renderer
	sender   email.Sender
	store    Store
	logger   *slog.Logger
}

func NewProcessor(renderer *email.Renderer, sender email.Sender, store Store, logger *slog.Logger) *Processor {
	return &Processor{renderer: renderer, sender: sender, store: store, logger: logger}
}

// Handle sends the email for one event. Delivery failures are recorded and
// swallowed; only a failure to persist the outcome is returned so the event is
// retried.
func (p *Processor) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	appt, err := events.DecodeAppointment(msg.Value)
	if err != nil {
		p.logger.ErrorContext(ctx, "invalid appointment event", "err", err, "event_id", meta.EventID)
		return nil
	}

	n := storage.Notification{
		EventID:       meta.EventID,
		EventType:     meta.EventType,
		AppointmentID: appt.AppointmentID,
		Channel:       "email",
		Recipient:     appt.PatientEmail,
	}

	rendered, ok, err := p.renderer.Render(meta.EventType, appt)
	switch {
	case !ok:
		return nil
	case err != nil:
		n.Status, n.Error = storage.StatusFailed, err.Error()
	case appt.PatientEmail == "":
		n.Status, n.Error = storage.StatusSkipped, "no recipient"
	default:
		n.Subject = rendered.Subject
		if err := p.sender.Send(ctx, rendered); err != nil {
			p.logger.ErrorContext(ctx, "email send failed", "err", err, "appointment_id", appt.AppointmentID)
			n.Status, n.Error = storage.StatusFailed, err.Error()
		} else {
			n.Status, n.ProviderID = storage.StatusSent, p.sender.ProviderID()
		}
	}

	if err := p.store.Insert(ctx, n); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist notification", "err", err, "event_id", meta.EventID)
		return err
	}
	p.logger.InfoContext(ctx, "notification processed",
		"appointment_id", appt.AppointmentID, "event_type", meta.EventType, "status", n.Status)
	return nil
}
