// Package seed holds the demo catalog used by the seed command and the in-memory store.
package seed

import (
	"github.com/google/uuid"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/storage"
)

// ID derives a stable UUID so repeated seeding targets the same rows.
func ID(kind, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("clinicbook:"+kind+":"+name)).String()
}

var (
	ClinicID = ID("clinic", "elite-medical-center")

	GeneralConsultationID    = ID("service", "general-consultation")
	SpecialistConsultationID = ID("service", "specialist-consultation")
	FollowUpID               = ID("service", "follow-up-visit")
	CheckUpID                = ID("service", "health-check-up")

	SarahJohnsonID = ID("doctor", "sarah-johnson")
	MichaelChenID  = ID("doctor", "michael-chen")
)

func Demo() storage.Dataset {
	weekdays := []model.Weekday{model.Monday, model.Tuesday, model.Wednesday, model.Thursday, model.Friday}

	var hours []model.WorkingHours
	for _, day := range weekdays {
		hours = append(hours,
			model.WorkingHours{DoctorID: SarahJohnsonID, Day: day, Start: model.MustClock("09:00"), End: model.MustClock("17:00")},
			model.WorkingHours{DoctorID: MichaelChenID, Day: day, Start: model.MustClock("10:00"), End: model.MustClock("18:00")},
		)
	}
	hours = append(hours, model.WorkingHours{DoctorID: MichaelChenID, Day: model.Saturday, Start: model.MustClock("09:00"), End: model.MustClock("13:00")})

	return storage.Dataset{
		Clinics: []model.Clinic{
			{ID: ClinicID, Name: "Elite Medical Center", Address: "King Fahd Road, Riyadh"},
		},
		Services: []model.Service{
			{ID: GeneralConsultationID, Name: "General Consultation", DurationMinutes: 30, PriceCents: 15000},
			{ID: SpecialistConsultationID, Name: "Specialist Consultation", DurationMinutes: 45, PriceCents: 30000},
			{ID: FollowUpID, Name: "Follow-up Visit", DurationMinutes: 20, PriceCents: 10000},
			{ID: CheckUpID, Name: "Health Check-up", DurationMinutes: 60, PriceCents: 50000},
		},
		Doctors: []model.Doctor{
			{
				ID: SarahJohnsonID, ClinicID: ClinicID, Name: "Dr. Sarah Johnson", Specialty: "General Practice",
				ServiceIDs: []string{GeneralConsultationID, FollowUpID, CheckUpID},
			},
			{
				ID: MichaelChenID, ClinicID: ClinicID, Name: "Dr. Michael Chen", Specialty: "Cardiology",
				ServiceIDs: []string{SpecialistConsultationID, FollowUpID, CheckUpID},
			},
		},
		Hours: hours,
	}
}
