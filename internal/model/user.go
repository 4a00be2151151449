package model

import "time"

// User is a participant directory entry.
type User struct {
	ID           string
	Name         string
	AvatarID     string
	LastActiveAt time.Time
	IsCurrent    bool
}
