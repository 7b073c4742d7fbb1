package models

import "time"

// WaitlistEntry ranks an application that could not be allocated. Ranks are
// advisory and never renumbered, so gaps are expected.
type WaitlistEntry struct {
	ID            string    `db:"id" json:"id"`
	ApplicationID string    `db:"application_id" json:"applicationId"`
	Rank          int       `db:"rank" json:"rank"`
	HostelID      *string   `db:"hostel_id" json:"hostelId,omitempty"`
	RoomType      *string   `db:"room_type" json:"roomType,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// WaitlistScope identifies the bucket in which ranks are computed. An empty
// HostelID is the unscoped bucket.
type WaitlistScope struct {
	HostelID string
}

// ScopeFor derives the waitlist bucket from application preferences.
func ScopeFor(prefs ApplicationPreferences) WaitlistScope {
	return WaitlistScope{HostelID: prefs.PrimaryHostel()}
}

// Matches reports whether the entry belongs to the scope.
func (s WaitlistScope) Matches(entry *WaitlistEntry) bool {
	if entry == nil {
		return false
	}
	if entry.HostelID == nil {
		return s.HostelID == ""
	}
	return *entry.HostelID == s.HostelID
}
