// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"strings"
)

const (
	MaxRoomIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrRoomIDEmpty      = errors.New("room id empty")
	ErrRoomIDTooLong    = errors.New("room id too long")
	ErrDisplayNameEmpty = errors.New("display name empty")
	ErrDisplayNameLong  = errors.New("display name too long")
	ErrPasswordEmpty    = errors.New("password empty")
)

type RoomID string

// Membership is the server's view of a room, replaced wholesale on every
// user_list frame. The client never patches it locally.
type Membership struct {
	Members []string
	Admin   string
	Locked  bool
}

// JoinRequest carries everything needed to open a room session.
type JoinRequest struct {
	RoomID      RoomID
	Password    string
	DisplayName string
}

// NewJoinRequest trims and validates inputs before any network call.
func NewJoinRequest(roomID, password, displayName string) (JoinRequest, error) {
	roomID = strings.TrimSpace(roomID)
	displayName = strings.TrimSpace(displayName)

	if roomID == "" {
		return JoinRequest{}, ErrRoomIDEmpty
	}
	if len(roomID) > MaxRoomIDLen {
		return JoinRequest{}, ErrRoomIDTooLong
	}
	if password == "" {
		return JoinRequest{}, ErrPasswordEmpty
	}
	if displayName == "" {
		return JoinRequest{}, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return JoinRequest{}, ErrDisplayNameLong
	}
	return JoinRequest{
		RoomID:      RoomID(roomID),
		Password:    password,
		DisplayName: displayName,
	}, nil
}
