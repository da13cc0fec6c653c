package core

import (
	"strconv"
	"strings"
)

// Broadcast as a DomainEvent target addresses every live connection.
const Broadcast = "*"

const userRoomPrefix = "user:"

// RoomFor returns the private room every connection of userID joins on registration.
func RoomFor(userID int64) string {
	return userRoomPrefix + strconv.FormatInt(userID, 10)
}

// IsUserRoom reports whether name is a private per-user room.
func IsUserRoom(name string) bool {
	return strings.HasPrefix(name, userRoomPrefix)
}
