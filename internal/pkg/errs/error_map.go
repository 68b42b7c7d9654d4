/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to
standardize ERROR packet text and ambient HTTP error responses.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every
// application error code. The key is the error code (int), and the value
// contains the client-facing message and an HTTP status code kept for the
// ambient HTTP sidecar.
var errorMap = map[int]CustomError{
	// 1xxx: Wire protocol framing errors
	ErrBadMagic:             {Code: ErrBadMagic, Message: "bad packet magic", Status: http.StatusBadRequest},
	ErrOversizeLength:       {Code: ErrOversizeLength, Message: "packet exceeds maximum size", Status: http.StatusRequestEntityTooLarge},
	ErrChecksumMismatch:     {Code: ErrChecksumMismatch, Message: "packet checksum mismatch", Status: http.StatusBadRequest},
	ErrUnexpectedPacketType: {Code: ErrUnexpectedPacketType, Message: "unexpected packet type", Status: http.StatusBadRequest},

	// 2xxx: Nickname and account errors
	ErrInvalidNickname:      {Code: ErrInvalidNickname, Message: "nickname must be 2-20 characters", Status: http.StatusBadRequest},
	ErrNicknameTaken:        {Code: ErrNicknameTaken, Message: "nickname is already taken", Status: http.StatusConflict},
	ErrAccountDeletePending: {Code: ErrAccountDeletePending, Message: "send delete_account again to confirm account deletion", Status: http.StatusAccepted},

	// 3xxx: Room and membership errors
	ErrInvalidRoomName: {Code: ErrInvalidRoomName, Message: "room name must be 1-31 characters", Status: http.StatusBadRequest},
	ErrRoomNameTaken:   {Code: ErrRoomNameTaken, Message: "room name is already taken", Status: http.StatusConflict},
	ErrRoomNotFound:    {Code: ErrRoomNotFound, Message: "room not found", Status: http.StatusNotFound},
	ErrRoomFull:        {Code: ErrRoomFull, Message: "room is full", Status: http.StatusForbidden},
	ErrAlreadyInRoom:   {Code: ErrAlreadyInRoom, Message: "leave your current room first", Status: http.StatusConflict},
	ErrNotInRoom:       {Code: ErrNotInRoom, Message: "you are not in a room", Status: http.StatusBadRequest},
	ErrNotManager:      {Code: ErrNotManager, Message: "only the room manager may do that", Status: http.StatusForbidden},
	ErrSelfTarget:      {Code: ErrSelfTarget, Message: "you cannot target yourself", Status: http.StatusBadRequest},
	ErrUserNotFound:    {Code: ErrUserNotFound, Message: "user not found", Status: http.StatusNotFound},

	// 4xxx: Message errors
	ErrEmptyMessage:    {Code: ErrEmptyMessage, Message: "message body cannot be empty", Status: http.StatusBadRequest},
	ErrMessageNotFound: {Code: ErrMessageNotFound, Message: "message not found", Status: http.StatusNotFound},

	// 6xxx: Resource exhaustion
	ErrServerFull: {Code: ErrServerFull, Message: "server is full, try again later", Status: http.StatusServiceUnavailable},

	// 5xxx: Internal system errors
	ErrUnknown:           {Code: ErrUnknown, Message: "an unexpected server error occurred", Status: http.StatusInternalServerError},
	ErrPersistenceFailed: {Code: ErrPersistenceFailed, Message: "internal storage error, please retry", Status: http.StatusInternalServerError},
}
