package availability

import "github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"

// Granularity is the slot step in minutes. Every start time lies on this grid
// counted from the opening time, whatever the service duration.
const Granularity = 30

// GenerateSlots lists every grid start time t in w with t+duration <= close, ascending.
func GenerateSlots(w Window, duration int) []model.Clock {
	slots := []model.Clock{}
	if w.Closed() || duration <= 0 {
		return slots
	}
	for t := w.Open; t.Add(duration) <= w.Close; t = t.Add(Granularity) {
		slots = append(slots, t)
	}
	return slots
}

// onGrid reports whether start is one of the candidates GenerateSlots would emit.
func onGrid(w Window, start model.Clock, duration int) bool {
	if w.Closed() || duration <= 0 || start < w.Open || start.Add(duration) > w.Close {
		return false
	}
	return int(start-w.Open)%Granularity == 0
}

// occupancy is the set of grid cells [g, g+Granularity) touched by existing bookings.
type occupancy struct {
	open   model.Clock
	marked map[model.Clock]bool
}

func newOccupancy(w Window, booked []model.BookedInterval) occupancy {
	o := occupancy{open: w.Open, marked: make(map[model.Clock]bool)}
	for _, b := range booked {
		for g := o.cell(b.Start); g < b.End(); g = g.Add(Granularity) {
			o.marked[g] = true
		}
	}
	return o
}

// cell returns the grid point at or before t.
func (o occupancy) cell(t model.Clock) model.Clock {
	off := int(t - o.open)
	q := off / Granularity
	if off%Granularity != 0 && off < 0 {
		q--
	}
	return o.open.Add(q * Granularity)
}

// free reports whether no cell in [start, start+duration) is occupied. A
// booking that overlaps the interval always marks one of those cells, so a free
// candidate never overlaps an active appointment.
func (o occupancy) free(start model.Clock, duration int) bool {
	end := start.Add(duration)
	for g := o.cell(start); g < end; g = g.Add(Granularity) {
		if o.marked[g] {
			return false
		}
	}
	return true
}

// FreeSlots filters the candidate grid of w against the booked intervals.
func FreeSlots(w Window, duration int, booked []model.BookedInterval) []model.Clock {
	candidates := GenerateSlots(w, duration)
	if len(candidates) == 0 || len(booked) == 0 {
		return candidates
	}
	occ := newOccupancy(w, booked)
	free := candidates[:0]
	for _, t := range candidates {
		if occ.free(t, duration) {
			free = append(free, t)
		}
	}
	return free
}

func overlaps(start model.Clock, duration int, booked []model.BookedInterval) bool {
	end := start.Add(duration)
	for _, b := range booked {
		if start < b.End() && b.Start < end {
			return true
		}
	}
	return false
}
