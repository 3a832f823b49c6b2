package availability

import (
	"context"
	"errors"
	"testing"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

type hoursMap map[string]model.WorkingHours

func (h hoursMap) WorkingHours(_ context.Context, doctorID string, day model.Weekday) (model.WorkingHours, bool, error) {
	if doctorID == "broken" {
		return model.WorkingHours{}, false, errors.New("store down")
	}
	wh, ok := h[doctorID+"/"+string(day)]
	return wh, ok, nil
}

func TestResolver(t *testing.T) {
	r := NewResolver(hoursMap{
		"doc/monday": {DoctorID: "doc", Day: model.Monday, Start: model.MustClock("09:00"), End: model.MustClock("17:00")},
	})
	ctx := context.Background()

	w, err := r.Resolve(ctx, "doc", model.MustDate("2026-03-02"))
	if err != nil || w.Closed() || w.Open.String() != "09:00" || w.Close.String() != "17:00" {
		t.Fatalf("expected 09:00-17:00, got %+v (%v)", w, err)
	}
	if w, err := r.Resolve(ctx, "doc", model.MustDate("2026-03-08")); err != nil || !w.Closed() {
		t.Fatalf("expected sunday closed, got %+v (%v)", w, err)
	}
	if w, err := r.Resolve(ctx, "ghost", model.MustDate("2026-03-02")); err != nil || !w.Closed() {
		t.Fatalf("expected unknown doctor closed, got %+v (%v)", w, err)
	}
	if _, err := r.Resolve(ctx, "broken", model.MustDate("2026-03-02")); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
