// Package penalty prices overstays. Pure and deterministic: no I/O, no clock.
package penalty

import "time"

// Calculator maps whole hours late to a charge. The per-hour rate is
// injected so it can vary by event and season.
type Calculator struct {
	ratePerHour int
}

func NewCalculator(ratePerHour int) *Calculator {
	return &Calculator{ratePerHour: ratePerHour}
}

// HoursLate converts an overstay to billable hours, ceiling-rounded: one
// second past the deadline already charges a full hour. Non-positive
// overstays are zero hours.
func HoursLate(overstay time.Duration) int {
	if overstay <= 0 {
		return 0
	}
	hours := int(overstay / time.Hour)
	if overstay%time.Hour != 0 {
		hours++
	}
	return hours
}

// Amount returns the charge for the given billable hours.
func (c *Calculator) Amount(hoursLate int) int {
	if hoursLate <= 0 {
		return 0
	}
	return hoursLate * c.ratePerHour
}
