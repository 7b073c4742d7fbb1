package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ApplicationStatus captures the allocation lifecycle of a hostel application.
type ApplicationStatus string

const (
	ApplicationStatusPending    ApplicationStatus = "PENDING"
	ApplicationStatusInProgress ApplicationStatus = "IN_PROGRESS"
	ApplicationStatusAllocated  ApplicationStatus = "ALLOCATED"
	ApplicationStatusRejected   ApplicationStatus = "REJECTED"
	ApplicationStatusWaitlisted ApplicationStatus = "WAITLISTED"
)

// Allocatable reports whether the batch runner may pick the application up.
func (s ApplicationStatus) Allocatable() bool {
	return s == ApplicationStatusPending || s == ApplicationStatusWaitlisted
}

// PriorityCategory enumerates special consideration groups. Priority only
// affects processing order; no units are reserved per category.
type PriorityCategory string

const (
	PriorityDisability    PriorityCategory = "DISABILITY"
	PriorityInternational PriorityCategory = "INTERNATIONAL"
	PriorityScholarship   PriorityCategory = "SCHOLARSHIP"
	PrioritySports        PriorityCategory = "SPORTS"
)

// Valid reports whether the category is one of the known values.
func (p PriorityCategory) Valid() bool {
	switch p {
	case PriorityDisability, PriorityInternational, PriorityScholarship, PrioritySports:
		return true
	default:
		return false
	}
}

// Application is a student's request for one bed.
type Application struct {
	ID          string                 `db:"id" json:"id"`
	StudentID   string                 `db:"student_id" json:"studentId"`
	Preferences ApplicationPreferences `db:"preferences" json:"preferences"`
	Priority    *PriorityCategory      `db:"priority_category" json:"priorityCategory,omitempty"`
	Status      ApplicationStatus      `db:"status" json:"status"`
	SubmittedAt time.Time              `db:"submitted_at" json:"submittedAt"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updatedAt"`

	StudentEmail string `db:"student_email" json:"-"`
	StudentName  string `db:"student_name" json:"-"`
}

// HasPriority reports whether a priority category is set.
func (a *Application) HasPriority() bool {
	return a != nil && a.Priority != nil && *a.Priority != ""
}

// ApplicationPreferences stores the hard and soft preferences persisted as JSONB.
type ApplicationPreferences struct {
	HostelIDs []string `json:"hostelIds,omitempty"`
	RoomType  string   `json:"roomType,omitempty"`
}

// PrimaryHostel returns the first preferred hostel or an empty string.
func (p ApplicationPreferences) PrimaryHostel() string {
	if len(p.HostelIDs) == 0 {
		return ""
	}
	return p.HostelIDs[0]
}

// Value marshals preferences to JSON for persistence.
func (p ApplicationPreferences) Value() (driver.Value, error) {
	if p.HostelIDs == nil {
		p.HostelIDs = []string{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal application preferences: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the preferences struct.
func (p *ApplicationPreferences) Scan(value interface{}) error {
	if value == nil {
		*p = ApplicationPreferences{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ApplicationPreferences", value)
	}
	if len(data) == 0 {
		*p = ApplicationPreferences{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal application preferences: %w", err)
	}
	return nil
}
