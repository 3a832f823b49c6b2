// Package events decodes the appointment events published by booking-service.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AppointmentBooked      = "booking.appointment.booked.v1"
	AppointmentRescheduled = "booking.appointment.rescheduled.v1"
	AppointmentCancelled   = "booking.appointment.cancelled.v1"
	AppointmentUpdated     = "booking.appointment.updated.v1"
)

// Topics lists every topic the notification service subscribes to.
var Topics = []string{AppointmentBooked, AppointmentRescheduled, AppointmentCancelled, AppointmentUpdated}

type Appointment struct {
	AppointmentID     string    `json:"appointmentId"`
	Status            string    `json:"status"`
	ClinicID          string    `json:"clinicId"`
	ClinicName        string    `json:"clinicName"`
	ClinicAddress     string    `json:"clinicAddress"`
	DoctorID          string    `json:"doctorId"`
	DoctorName        string    `json:"doctorName"`
	ServiceID         string    `json:"serviceId"`
	ServiceName       string    `json:"serviceName"`
	Date              string    `json:"date"`
	StartTime         string    `json:"startTime"`
	EndTime           string    `json:"endTime"`
	DurationMinutes   int       `json:"durationMinutes"`
	PatientName       string    `json:"patientName"`
	PatientEmail      string    `json:"patientEmail"`
	PatientPhone      string    `json:"patientPhone,omitempty"`
	PreviousDate      string    `json:"previousDate,omitempty"`
	PreviousStartTime string    `json:"previousStartTime,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func DecodeAppointment(raw []byte) (Appointment, error) {
	var a Appointment
	if err := json.Unmarshal(raw, &a); err != nil {
		return Appointment{}, fmt.Errorf("decode appointment event: %w", err)
	}
	if a.AppointmentID == "" || a.Date == "" || a.StartTime == "" {
		return Appointment{}, fmt.Errorf("appointment event missing appointmentId, date or startTime")
	}
	return a, nil
}
