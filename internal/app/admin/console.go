/*
Package admin implements the operator console half of the Listener & Admin
Loop (C1): line-delimited commands read from the process's standard input,
answered against the durable store rather than live in-memory state, per
spec.md §4.2.
*/
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"hzchat-tcp/internal/app/store"
)

// Console answers operator commands against st.
type Console struct {
	store *store.Store
}

// New constructs a Console over st.
func New(st *store.Store) *Console {
	return &Console{store: st}
}

const usage = "usage: users | rooms | user_info <id> | room_info <name> | recent_users [N] | quit"

// Handle runs one operator line and returns the text to print, and whether
// the operator asked to shut the server down (`quit`).
func (c *Console) Handle(ctx context.Context, line string) (output string, shutdown bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return usage, false
	}

	switch fields[0] {
	case "users":
		return c.users(ctx), false
	case "rooms":
		return c.rooms(ctx), false
	case "user_info":
		if len(fields) != 2 {
			return usage, false
		}
		return c.userInfo(ctx, fields[1]), false
	case "room_info":
		if len(fields) != 2 {
			return usage, false
		}
		return c.roomInfo(ctx, fields[1]), false
	case "recent_users":
		limit := 10
		if len(fields) == 2 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 {
				return usage, false
			}
			limit = n
		} else if len(fields) > 2 {
			return usage, false
		}
		return c.recentUsers(ctx, limit), false
	case "quit":
		return "shutting down", true
	default:
		return usage, false
	}
}

func (c *Console) users(ctx context.Context) string {
	users, err := c.store.EnumerateUsers(ctx)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if len(users) == 0 {
		return "no users"
	}

	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s connected=%t since=%s\n", u.UserID, u.Connected, u.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Console) rooms(ctx context.Context) string {
	rooms, err := c.store.EnumerateRooms(ctx)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if len(rooms) == 0 {
		return "no rooms"
	}

	var b strings.Builder
	for _, r := range rooms {
		fmt.Fprintf(&b, "id=%d name=%q manager=%s members=%d created=%s\n",
			r.RoomNo, r.RoomName, r.ManagerID, r.MemberCount, r.CreatedTime.Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Console) userInfo(ctx context.Context, id string) string {
	u, err := c.store.GetUserInfo(ctx, id)
	if err != nil {
		return fmt.Sprintf("not found: %s", id)
	}
	return fmt.Sprintf("%s connected=%t since=%s", u.UserID, u.Connected, u.Timestamp.Format("2006-01-02 15:04:05"))
}

func (c *Console) roomInfo(ctx context.Context, name string) string {
	r, err := c.store.GetRoomByName(ctx, name)
	if err != nil {
		return fmt.Sprintf("not found: %s", name)
	}
	return fmt.Sprintf("id=%d name=%q manager=%s members=%d created=%s",
		r.RoomNo, r.RoomName, r.ManagerID, r.MemberCount, r.CreatedTime.Format("2006-01-02 15:04:05"))
}

func (c *Console) recentUsers(ctx context.Context, limit int) string {
	users, err := c.store.RecentUsers(ctx, limit)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if len(users) == 0 {
		return "no users"
	}

	var b strings.Builder
	for _, u := range users {
		fmt.Fprintf(&b, "%s since=%s\n", u.UserID, u.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}
