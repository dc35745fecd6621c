// Package models defines setup record structures shared by the store, setup and wizard packages.
package models

import (
	"fmt"
	"time"
)

// Method is the representation a user picked for their reduction goal.
type Method string

const (
	// MethodNumber expresses the goal as an absolute number of tokes per day.
	MethodNumber Method = "number"
	// MethodPercent expresses the goal as a percentage of the daily baseline.
	MethodPercent Method = "percent"
)

// IsValid reports whether m is one of the supported methods.
func (m Method) IsValid() bool {
	switch m {
	case MethodNumber, MethodPercent:
		return true
	default:
		return false
	}
}

// Label returns the display name used in summaries.
func (m Method) Label() string {
	switch m {
	case MethodNumber:
		return "Number"
	case MethodPercent:
		return "Percent"
	default:
		return string(m)
	}
}

// Field identifies a logical setup field as presented by the wizard.
// FieldGoal is resolved to a concrete goal column through the record's method.
type Field string

const (
	FieldTokes    Field = "tokes"
	FieldStrength Field = "strength"
	FieldMethod   Field = "method"
	FieldGoal     Field = "goal"
)

// ParseField converts a logical field name into a Field.
func ParseField(name string) (Field, error) {
	switch f := Field(name); f {
	case FieldTokes, FieldStrength, FieldMethod, FieldGoal:
		return f, nil
	default:
		return "", fmt.Errorf("unknown setup field %q", name)
	}
}

// SetupRecord holds one user's wizard answers and the derived goal fields.
// Nil pointers mean "not set".
type SetupRecord struct {
	UserID        string     `json:"user_id"`
	Tokes         *int       `json:"tokes"`
	Strength      *int       `json:"strength"`
	Method        *Method    `json:"method"`
	ReduceAmount  *int       `json:"reduce_amount"`
	ReducePercent *float64   `json:"reduce_percent"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"` // last successful archive
}

// NewSetupRecord returns an empty record stamped with now.
func NewSetupRecord(userID string, now time.Time) SetupRecord {
	return SetupRecord{UserID: userID, CreatedAt: now, UpdatedAt: now}
}

// Complete reports whether every wizard answer is present.
func (r SetupRecord) Complete() bool {
	if r.Tokes == nil || r.Strength == nil || r.Method == nil {
		return false
	}
	switch *r.Method {
	case MethodNumber:
		return r.ReduceAmount != nil
	case MethodPercent:
		return r.ReducePercent != nil
	}
	return false
}

// NeedsSync reports whether a complete record has changed since it was last archived.
func (r SetupRecord) NeedsSync() bool {
	if !r.Complete() {
		return false
	}
	return r.SyncedAt == nil || r.SyncedAt.Before(r.UpdatedAt)
}

// Clone returns a deep copy so callers never share pointers with a store.
func (r SetupRecord) Clone() SetupRecord {
	c := r
	if r.Tokes != nil {
		v := *r.Tokes
		c.Tokes = &v
	}
	if r.Strength != nil {
		v := *r.Strength
		c.Strength = &v
	}
	if r.Method != nil {
		v := *r.Method
		c.Method = &v
	}
	if r.ReduceAmount != nil {
		v := *r.ReduceAmount
		c.ReduceAmount = &v
	}
	if r.ReducePercent != nil {
		v := *r.ReducePercent
		c.ReducePercent = &v
	}
	if r.SyncedAt != nil {
		v := *r.SyncedAt
		c.SyncedAt = &v
	}
	return c
}
