package availability

import (
	"context"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

// Window is a doctor's opening window on one date. The zero Window means closed.
type Window struct {
	Open  model.Clock
	Close model.Clock
}

func (w Window) Closed() bool { return w.Close <= w.Open }

type HoursSource interface {
	WorkingHours(ctx context.Context, doctorID string, day model.Weekday) (model.WorkingHours, bool, error)
}

// Resolver maps a doctor and a naive calendar date to the opening window of that weekday.
type Resolver struct {
	hours HoursSource
}

func NewResolver(hours HoursSource) *Resolver {
	return &Resolver{hours: hours}
}

// Resolve returns the zero Window when the doctor has no hours on the date's
// weekday. An unknown doctor is closed as well.
func (r *Resolver) Resolve(ctx context.Context, doctorID string, date model.Date) (Window, error) {
	h, ok, err := r.hours.WorkingHours(ctx, doctorID, date.Weekday())
	if err != nil {
		return Window{}, err
	}
	if !ok {
		return Window{}, nil
	}
	return Window{Open: h.Start, Close: h.End}, nil
}
