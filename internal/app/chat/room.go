package chat

import "time"

// Room is the in-memory representation of a chat room. Membership is kept
// as an ordered slice rather than the doubly-linked list the original
// source uses, since a Go slice already gives stable ordering and O(1)
// append with an explicit capacity check.
type Room struct {
	// ID is the room's monotonically increasing numeric id (never reused within a run).
	ID uint64

	// Name is the room's human-readable name, 1-31 characters, unique among rooms (invariant I5).
	Name string

	// Manager is the user currently holding administrative rights over the room (invariant I6).
	Manager *User

	// Members is the ordered sequence of users currently in the room, bounded by capacity.
	Members []*User

	// CreatedAt is when the room was created.
	CreatedAt time.Time
}

// IsMember reports whether user is currently a member of r. Callers must
// hold the registry's rooms lock.
func (r *Room) IsMember(user *User) bool {
	for _, m := range r.Members {
		if m == user {
			return true
		}
	}
	return false
}

// MemberNicknames returns a snapshot of the room's current member nicknames,
// in membership order. Callers must hold the registry's rooms lock.
func (r *Room) MemberNicknames() []string {
	names := make([]string, len(r.Members))
	for i, m := range r.Members {
		names[i] = m.Nickname
	}
	return names
}
