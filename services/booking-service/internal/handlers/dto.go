package handlers

import (
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

type appointmentJSON struct {
	ID              string    `json:"id"`
	ClinicID        string    `json:"clinicId"`
	DoctorID        string    `json:"doctorId"`
	ServiceID       string    `json:"serviceId"`
	Date            string    `json:"date"`
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	DurationMinutes int       `json:"durationMinutes"`
	PatientName     string    `json:"patientName"`
	PatientEmail    string    `json:"patientEmail"`
	PatientPhone    string    `json:"patientPhone,omitempty"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	Archived        bool      `json:"archived"`
	Arrived         *bool     `json:"arrived"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toAppointmentJSON(a model.Appointment) appointmentJSON {
	return appointmentJSON{
		ID:              a.ID,
		ClinicID:        a.ClinicID,
		DoctorID:        a.DoctorID,
		ServiceID:       a.ServiceID,
		Date:            a.Date.String(),
		StartTime:       a.Start.String(),
		EndTime:         a.End().String(),
		DurationMinutes: a.DurationMinutes,
		PatientName:     a.PatientName,
		PatientEmail:    a.PatientEmail,
		PatientPhone:    a.PatientPhone,
		Status:          string(a.Status),
		Notes:           a.Notes,
		Archived:        a.Archived,
		Arrived:         a.Arrived,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type clinicJSON struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Address string       `json:"address"`
	Doctors []doctorJSON `json:"doctors,omitempty"`
}

type doctorJSON struct {
	ID         string        `json:"id"`
	ClinicID   string        `json:"clinicId"`
	Name       string        `json:"name"`
	Specialty  string        `json:"specialty"`
	ServiceIDs []string      `json:"serviceIds"`
	Services   []serviceJSON `json:"services,omitempty"`
}

func toDoctorJSON(d model.Doctor) doctorJSON {
	ids := d.ServiceIDs
	if ids == nil {
		ids = []string{}
	}
	return doctorJSON{ID: d.ID, ClinicID: d.ClinicID, Name: d.Name, Specialty: d.Specialty, ServiceIDs: ids}
}

type serviceJSON struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
	PriceCents      int    `json:"priceCents"`
}

func toServiceJSON(s model.Service) serviceJSON {
	return serviceJSON{ID: s.ID, Name: s.Name, DurationMinutes: s.DurationMinutes, PriceCents: s.PriceCents}
}

type hoursJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}
