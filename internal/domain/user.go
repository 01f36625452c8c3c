// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type (
	UserID int64
	ConnID string
)

type User struct {
	ID           UserID       `json:"id"`
	Username     string       `json:"username"`
	Availability Availability `json:"availability"`
}

type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityAway    Availability = "away"
	AvailabilityBusy    Availability = "busy"
	AvailabilityOffline Availability = "offline"
)

var ErrBadAvailability = errors.New("unknown availability value")

func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(s); a {
	case AvailabilityOnline, AvailabilityAway, AvailabilityBusy, AvailabilityOffline:
		return a, nil
	}
	return "", ErrBadAvailability
}
