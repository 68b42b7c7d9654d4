/*
Package handler provides the ambient HTTP sidecar: a health check and a
read-only stats endpoint, additive to the TCP chat protocol rather than
part of it (see SPEC_FULL.md §4).
*/
package handler

import (
	"net/http"

	"hzchat-tcp/internal/pkg/resp"
)

// HandleHealth reports the sidecar is up. It does not reach into the
// registry: liveness should not depend on chat-state internals.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp.RespondSuccess(w, r, map[string]string{
		"status":  "ok",
		"service": "hzchat-tcp",
	})
}

// statsResponse is the /stats payload shape.
type statsResponse struct {
	ConnectedUsers int                 `json:"connected_users"`
	Rooms          []roomStatsResponse `json:"rooms"`
}

type roomStatsResponse struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// HandleStats returns a live snapshot of the chat registry for operators
// and monitoring, deliberately excluding any room history or message
// content.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps := deps.Registry.EnumerateRooms()
		rooms := make([]roomStatsResponse, len(snaps))
		for i, s := range snaps {
			rooms[i] = roomStatsResponse{ID: s.ID, Name: s.Name, MemberCount: s.MemberCount}
		}

		resp.RespondSuccess(w, r, statsResponse{
			ConnectedUsers: deps.Registry.ConnectedUserCount(),
			Rooms:          rooms,
		})
	}
}
