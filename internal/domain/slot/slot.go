package slot

import (
	"errors"
	"time"
)

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrInvalidGuests   = errors.New("guest count must be positive")
)

// Slot is the bookable capacity for one time window of one experience.
// BookedCount and Available are mutated only through the optimistic update
// executor; descriptive fields belong to experience management.
type Slot struct {
	ID           string    `json:"id"`
	ExperienceID string    `json:"experience_id"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Capacity     int       `json:"capacity"`
	BookedCount  int       `json:"booked_count"`
	Available    bool      `json:"available"`
	Price        int       `json:"price"`
	Version      int       `json:"version"`
}

func (s *Slot) GetID() string    { return s.ID }
func (s *Slot) GetVersion() int  { return s.Version }
func (s *Slot) SetVersion(v int) { s.Version = v }

// Remaining returns the number of guest seats still open.
func (s *Slot) Remaining() int {
	return s.Capacity - s.BookedCount
}

// Reserve books guests seats. It is rechecked against fresh state on every
// retry of the optimistic update, never assumed stable across reads.
func (s *Slot) Reserve(guests int) error {
	if guests <= 0 {
		return ErrInvalidGuests
	}
	if !s.Available || s.BookedCount+guests > s.Capacity {
		return ErrSlotUnavailable
	}
	s.BookedCount += guests
	if s.BookedCount == s.Capacity {
		s.Available = false
	}
	return nil
}

// Release returns guests seats to the slot and re-opens it.
func (s *Slot) Release(guests int) error {
	if guests <= 0 {
		return ErrInvalidGuests
	}
	s.BookedCount -= guests
	if s.BookedCount < 0 {
		s.BookedCount = 0
	}
	s.Available = true
	return nil
}
