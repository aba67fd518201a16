// Package domain holds the canonical entity definitions. Each record shape is
// declared exactly once here and validated at the boundary where it is
// constructed, not re-validated ad hoc at call sites.
package domain

import "time"

// PassStatus is the lifecycle state of a pass. active is the sole initial
// state; used, expired, and cancelled are terminal and accept no further
// scans.
type PassStatus string

const (
	PassActive    PassStatus = "active"
	PassUsed      PassStatus = "used"
	PassExpired   PassStatus = "expired"
	PassCancelled PassStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s PassStatus) Terminal() bool {
	return s == PassUsed || s == PassExpired || s == PassCancelled
}

// MaxGroupSize bounds one pass to the holder plus nine companions.
const MaxGroupSize = 10

// Scan is one checkpoint event.
type Scan struct {
	ScannedAt  time.Time `json:"scanned_at"`
	Checkpoint string    `json:"checkpoint"`
	Zone       string    `json:"zone"`
}

// Extension records one deadline extension.
type Extension struct {
	GrantedAt       time.Time `json:"granted_at"`
	AdditionalHours int       `json:"additional_hours"`
	Cost            int       `json:"cost"`
	NewDeadline     time.Time `json:"new_deadline"`
	TentBooked      bool      `json:"tent_booked"`
}

// Pricing captures the surge-adjusted admission price fixed at issuance.
type Pricing struct {
	BasePrice       int     `json:"base_price"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	FinalPrice      int     `json:"final_price"`
}

// Pass is one admitted group's credential. Mutated only through registry
// operations; terminal passes are retained for audit, never deleted.
//
// Invariants: status transitions are monotonic, ExitDeadline is non-decreasing
// over the pass lifetime, GroupSize <= MaxGroupSize always.
type Pass struct {
	ID string `json:"pass_id"`
	// HolderID is the raw 12-digit holder identifier. It never leaves the
	// process inside a token; the codec embeds a one-way hash instead.
	HolderID     string      `json:"-"`
	GroupMembers []string    `json:"group_members"`
	GroupSize    int         `json:"group_size"`
	SlotStart    time.Time   `json:"slot_start"`
	ExitDeadline time.Time   `json:"exit_deadline"`
	Status       PassStatus  `json:"status"`
	EntryScans   []Scan      `json:"entry_scans"`
	ExitScans    []Scan      `json:"exit_scans"`
	Extensions   []Extension `json:"extensions"`
	Pricing      Pricing     `json:"pricing"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Penalty is a derived charge for a late exit, created only as a side effect
// of an exit scan past the deadline or of the expiry sweep.
type Penalty struct {
	PassID     string    `json:"pass_id"`
	HoursLate  int       `json:"hours_late"`
	Amount     int       `json:"amount"`
	Paid       bool      `json:"paid"`
	AssessedAt time.Time `json:"assessed_at"`
}
