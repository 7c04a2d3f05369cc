package quota

import (
	"time"

	"github.com/google/uuid"
)

// Record matches the user_daily_quotas table schema. Identity is
// (UserID, Day); Version increments on every committed mutation.
type Record struct {
	UserID            uuid.UUID  `json:"user_id"`
	Day               string     `json:"day"`
	GeneratedCount    int        `json:"generated_count"`
	MaxDaily          int        `json:"max_daily_quota"`
	CurrentCardExists bool       `json:"current_card_exists"`
	CurrentCardID     *uuid.UUID `json:"current_card_id"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Remaining is how many generations the user has left today.
func (r Record) Remaining() int {
	if n := r.MaxDaily - r.GeneratedCount; n > 0 {
		return n
	}
	return 0
}

// CanGenerate reports whether a new generation may start: quota left and no
// card currently held.
func (r Record) CanGenerate() bool {
	return r.Remaining() > 0 && !r.CurrentCardExists
}

// Status is the API view of a user's quota for one day.
type Status struct {
	UserID            uuid.UUID  `json:"user_id"`
	Day               string     `json:"day"`
	GeneratedCount    int        `json:"generated_count"`
	MaxDaily          int        `json:"max_daily_quota"`
	Remaining         int        `json:"remaining"`
	CurrentCardExists bool       `json:"current_card_exists"`
	CurrentCardID     *uuid.UUID `json:"current_card_id,omitempty"`
	CanGenerate       bool       `json:"can_generate"`
}

func statusOf(r Record) Status {
	return Status{
		UserID:            r.UserID,
		Day:               r.Day,
		GeneratedCount:    r.GeneratedCount,
		MaxDaily:          r.MaxDaily,
		Remaining:         r.Remaining(),
		CurrentCardExists: r.CurrentCardExists,
		CurrentCardID:     r.CurrentCardID,
		CanGenerate:       r.CanGenerate(),
	}
}
