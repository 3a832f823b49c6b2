package email

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/clinicbook/services/notification-service/internal/events"
)

func sampleAppointment() events.Appointment {
	return events.Appointment{
		AppointmentID: "a-1",
		ClinicName:    "Elite Medical Center",
		ClinicAddress: "King Fahd Road, Riyadh",
		DoctorName:    "Dr. Sarah Johnson",
		ServiceName:   "General Consultation",
		Date:          "2026-03-02",
		StartTime:     "10:00",
		EndTime:       "10:30",
		PatientName:   "Layla <Hassan>",
		PatientEmail:  "layla@example.com",
	}
}

func TestRenderBooked(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, ok, err := r.Render(events.AppointmentBooked, sampleAppointment())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "layla@example.com", msg.To)
	assert.Equal(t, "Elite Medical Center: Your appointment is confirmed", msg.Subject)
	assert.Contains(t, msg.Text, "Time:    10:00 - 10:30")
	assert.Contains(t, msg.Text, "Dear Layla <Hassan>,")
	assert.Contains(t, msg.HTML, "Layla &lt;Hassan&gt;", "html body must be escaped")
}

func TestRenderRescheduledMentionsPreviousSlot(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	appt := sampleAppointment()
	appt.PreviousDate, appt.PreviousStartTime = "2026-03-01", "09:00"
	msg, ok, err := r.Render(events.AppointmentRescheduled, appt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, msg.Text, "from 2026-03-01 09:00 to 2026-03-02 at 10:00")
}

func TestRenderSkipsUpdates(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	_, ok, err := r.Render(events.AppointmentUpdated, sampleAppointment())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildMessage(t *testing.T) {
	plain, err := buildMessage("clinic@example.com", Message{To: "p@example.com", Subject: "Hi", Text: "hello"})
	require.NoError(t, err)
	assert.Contains(t, string(plain), "Content-Type: text/plain; charset=utf-8\r\n\r\nhello\r\n")

	multi, err := buildMessage("clinic@example.com", Message{To: "p@example.com", ToName: "Pat", Subject: "Hi", Text: "hello", HTML: "<p>hello</p>"})
	require.NoError(t, err)
	s := string(multi)
	assert.Contains(t, s, "To: \"Pat\" <p@example.com>\r\n")
	assert.Contains(t, s, "multipart/alternative; boundary=")
	assert.Less(t, strings.Index(s, "text/plain"), strings.Index(s, "text/html"))
	assert.Contains(t, s, "<p>hello</p>")
}

func TestSendGridSender(t *testing.T) {
	var got struct {
		Subject string `json:"subject"`
		From    struct {
			Email string `json:"email"`
		} `json:"from"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSendGridSender(SendGridConfig{APIKey: "SG.key", FromEmail: "clinic@example.com", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Message{To: "p@example.com", Subject: "Hi", Text: "hello"}))
	assert.Equal(t, "Hi", got.Subject)
	assert.Equal(t, "clinic@example.com", got.From.Email)
	assert.Equal(t, "sendgrid", s.ProviderID())
}

func TestSendGridSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s, err := NewSendGridSender(SendGridConfig{APIKey: "SG.bad", BaseURL: srv.URL})
	require.NoError(t, err)
	err = s.Send(context.Background(), Message{To: "p@example.com", Subject: "Hi", Text: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = NewSendGridSender(SendGridConfig{})
	assert.Error(t, err)
}
