package model

import "fmt"

type Clinic struct {
	ID      string
	Name    string
	Address string
}

type Doctor struct {
	ID         string
	ClinicID   string
	Name       string
	Specialty  string
	ServiceIDs []string
}

func (d Doctor) Offers(serviceID string) bool {
	for _, id := range d.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

type Service struct {
	ID              string
	Name            string
	DurationMinutes int
	PriceCents      int
}

// WorkingHours is one weekly opening window for a doctor. There is at most
// one entry per (DoctorID, Day).
type WorkingHours struct {
	DoctorID string
	Day      Weekday
	Start    Clock
	End      Clock
}

func (w WorkingHours) Validate() error {
	if w.DoctorID == "" {
		return fmt.Errorf("working hours: doctor id required")
	}
	if _, err := ParseWeekday(string(w.Day)); err != nil {
		return fmt.Errorf("working hours: %w", err)
	}
	if w.Start < 0 || w.End > MinutesPerDay || w.Start >= w.End {
		return fmt.Errorf("working hours: start %s must be before end %s", w.Start, w.End)
	}
	return nil
}
