package models

import "time"

// Protocol identifies the social network a user account belongs to.
type Protocol string

const (
	ProtocolAT       Protocol = "at"
	ProtocolMastodon Protocol = "mastodon"
)

// Status is the state machine field driving the two sweep processes.
//
//	ACTIVE   -> linked, no schedule yet
//	SCHEDULE -> has a weekly slot, waiting for the next due match
//	QUEUED   -> chart + montage ready, waiting for send
//	SENDING  -> send in flight
//	ERROR    -> terminal until manual reset
//	PAUSED   -> excluded from both sweeps
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusSchedule Status = "SCHEDULE"
	StatusQueued   Status = "QUEUED"
	StatusSending  Status = "SENDING"
	StatusError    Status = "ERROR"
	StatusPaused   Status = "PAUSED"
)

// User represents one linked social identity.
type User struct {
	ID             int64
	Protocol       Protocol
	Instance       string
	Username       string
	DID            *string // AT protocol only
	Password       *string // encrypted app password (AT)
	Token          *string // encrypted access token (Mastodon)
	LastFMUsername *string
	DayOfWeek      *int    // ISO weekday 1..7, stored in UTC
	Time           *string // "HH:MM:SS", UTC
	Timezone       *string // IANA name, for display and due-check validation
	Language       string
	Status         Status
	Callback       *string // human-readable last outcome
	SocialMessage  *string // last successfully posted text
	SocialMontage  *string // relative storage path of the last montage
	ErrorCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
