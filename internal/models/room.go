package models

import "time"

// RoomStatus describes whether a room may receive new occupants.
type RoomStatus string

const (
	RoomStatusAvailable   RoomStatus = "AVAILABLE"
	RoomStatusOccupied    RoomStatus = "OCCUPIED"
	RoomStatusMaintenance RoomStatus = "MAINTENANCE"
	RoomStatusReserved    RoomStatus = "RESERVED"
)

// Room groups beds inside a block of a hostel. Rooms are read-only to the
// allocation engine. HostelID is not stored on the room; queries select it
// from the owning block as bl.hostel_id.
type Room struct {
	ID         string     `db:"id" json:"id"`
	BlockID    string     `db:"block_id" json:"blockId"`
	HostelID   string     `db:"hostel_id" json:"hostelId"`
	RoomNumber string     `db:"room_number" json:"roomNumber"`
	RoomType   string     `db:"room_type" json:"roomType"`
	Status     RoomStatus `db:"status" json:"status"`
	Capacity   int        `db:"capacity" json:"capacity"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}

// Bed is the allocatable unit. A bed is available when it has no occupant and
// its room is AVAILABLE.
type Bed struct {
	ID         string  `db:"id" json:"id"`
	RoomID     string  `db:"room_id" json:"roomId"`
	BedNumber  int     `db:"bed_number" json:"bedNumber"`
	OccupantID *string `db:"occupant_id" json:"occupantId,omitempty"`

	RoomNumber string     `db:"room_number" json:"roomNumber,omitempty"`
	HostelID   string     `db:"hostel_id" json:"hostelId,omitempty"`
	RoomStatus RoomStatus `db:"room_status" json:"-"`
}

// Available reports whether the bed can be assigned right now.
func (b *Bed) Available() bool {
	return b != nil && b.OccupantID == nil && b.RoomStatus == RoomStatusAvailable
}
