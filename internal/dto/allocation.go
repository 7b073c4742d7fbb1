package dto

import (
	"time"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
)

// AssignBedRequest defines payload for a manual "assign now" allocation.
type AssignBedRequest struct {
	BedID string `json:"bedId" validate:"required"`
}

// AllocationResponse is returned after a successful manual assignment.
type AllocationResponse struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	RoomID        string    `json:"roomId"`
	BedID         string    `json:"bedId"`
	AllocatedBy   string    `json:"allocatedBy"`
	AllocatedAt   time.Time `json:"allocatedAt"`
}

// NewAllocationResponse maps an allocation record to its response shape.
func NewAllocationResponse(a *models.Allocation) AllocationResponse {
	return AllocationResponse{
		ID:            a.ID,
		ApplicationID: a.ApplicationID,
		RoomID:        a.RoomID,
		BedID:         a.BedID,
		AllocatedBy:   a.AllocatedBy,
		AllocatedAt:   a.AllocatedAt,
	}
}

// RunTriggerResponse is returned when a batch run is queued.
type RunTriggerResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// WaitlistQuery filters waitlist listings. An empty HostelID selects the
// unscoped bucket.
type WaitlistQuery struct {
	HostelID string `form:"hostelId"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}
