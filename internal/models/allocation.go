package models

import "time"

// Allocation binds a satisfied application to exactly one bed. Rows are
// immutable once written.
type Allocation struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"applicationId"`
	StudentID     string    `db:"student_id" json:"studentId"`
	RoomID        string    `db:"room_id" json:"roomId"`
	BedID         string    `db:"bed_id" json:"bedId"`
	AllocatedBy   string    `db:"allocated_by" json:"allocatedBy"`
	AllocatedAt   time.Time `db:"allocated_at" json:"allocatedAt"`
}

// AllocationMode distinguishes batch-driven from administrator-driven allocations.
type AllocationMode string

const (
	AllocationModeAutomated AllocationMode = "automated"
	AllocationModeManual    AllocationMode = "manual"
)

// AllocationRunStats summarises one batch allocation run.
type AllocationRunStats struct {
	RunID      string    `json:"runId"`
	Actor      string    `json:"actor"`
	Allocated  int       `json:"allocated"`
	Waitlisted int       `json:"waitlisted"`
	Retained   int       `json:"retained"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Processed returns the number of applications the run touched.
func (s AllocationRunStats) Processed() int {
	return s.Allocated + s.Waitlisted + s.Retained + s.Errors
}
