package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/events"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

type template struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Renderer turns appointment events into patient emails.
type Renderer struct {
	byEvent map[string]template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{byEvent: map[string]template{}}
	for eventType, def := range map[string]struct{ name, subject string }{
		events.AppointmentBooked:      {"booked", "Your appointment is confirmed"},
		events.AppointmentRescheduled: {"rescheduled", "Your appointment has been rescheduled"},
		events.AppointmentCancelled:   {"cancelled", "Your appointment has been cancelled"},
	} {
		text, err := texttemplate.ParseFS(templateFS, "templates/"+def.name+".txt.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s text template: %w", def.name, err)
		}
		html, err := htmltemplate.ParseFS(templateFS, "templates/"+def.name+".html.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s html template: %w", def.name, err)
		}
		r.byEvent[eventType] = template{subject: def.subject, text: text, html: html}
	}
	return r, nil
}

// Render returns ok=false for event types that do not notify the patient.
func (r *Renderer) Render(eventType string, appt events.Appointment) (msg Message, ok bool, err error) {
	t, ok := r.byEvent[eventType]
	if !ok {
		return Message{}, false, nil
	}
	var text, html bytes.Buffer
	if err := t.text.Execute(&text, appt); err != nil {
		return Message{}, true, fmt.Errorf("render text: %w", err)
	}
	if err := t.html.Execute(&html, appt); err != nil {
		return Message{}, true, fmt.Errorf("render html: %w", err)
	}
	subject := t.subject
	if appt.ClinicName != "" {
		subject = appt.ClinicName + ": " + subject
	}
	return Message{
		To:      appt.PatientEmail,
		ToName:  appt.PatientName,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, true, nil
}
