package booking

import "time"

// RoomStatus mirrors the lifecycle state exposed by the booking API.
type RoomStatus string

const (
	RoomStatusActive  RoomStatus = "active"
	RoomStatusRetired RoomStatus = "retired"
)

// Room represents a meeting room catalog entry.
type Room struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Location  string     `json:"location,omitempty"`
	Capacity  int        `json:"capacity"`
	Status    RoomStatus `json:"status"`
	Amenities []string   `json:"amenities,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Booking represents a reservation of a room by a user.
type Booking struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Attendees int       `json:"attendees,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReplicationWindow bounds which bookings are eligible for offline caching.
// Rooms are not time-bounded; they are filtered by status instead.
type ReplicationWindow struct {
	PastOffsetDays   int
	FutureOffsetDays int
}

// DefaultWindow returns the standard 30-days-back, 60-days-forward window.
func DefaultWindow() ReplicationWindow {
	return ReplicationWindow{PastOffsetDays: 30, FutureOffsetDays: 60}
}

// Bounds resolves the window into absolute timestamps around now.
func (w ReplicationWindow) Bounds(now time.Time) (from, to time.Time) {
	return now.AddDate(0, 0, -w.PastOffsetDays), now.AddDate(0, 0, w.FutureOffsetDays)
}
