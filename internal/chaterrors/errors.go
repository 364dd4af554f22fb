// Package chaterrors holds the error taxonomy shared by the storage, delivery and
// gateway layers, together with the stable reason codes sent to clients.
package chaterrors

import (
	"errors"
	"net/http"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRoomNotFound         = errors.New("room not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrSenderNotParticipant = errors.New("user is not a participant of the room")
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrBroadcastUnavailable = errors.New("broadcast unavailable")
	ErrReceiptWriteFailed   = errors.New("receipt write failed")
	ErrInvalidEvent         = errors.New("invalid event")
	ErrRateLimited          = errors.New("rate limited")
)

type classification struct {
	err    error
	code   string
	status int
}

var classes = []classification{
	{ErrAuthenticationFailed, "authentication_failed", http.StatusUnauthorized},
	{ErrRoomNotFound, "room_not_found", http.StatusNotFound},
	{ErrMessageNotFound, "message_not_found", http.StatusNotFound},
	{ErrSenderNotParticipant, "not_participant", http.StatusForbidden},
	{ErrInvalidParticipants, "invalid_participants", http.StatusBadRequest},
	{ErrInvalidEvent, "invalid_event", http.StatusBadRequest},
	{ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
	{ErrBroadcastUnavailable, "broadcast_unavailable", http.StatusServiceUnavailable},
	{ErrReceiptWriteFailed, "receipt_write_failed", http.StatusInternalServerError},
}

// Code returns the reason code for err, or "internal" when err is not classified.
func Code(err error) string {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}
