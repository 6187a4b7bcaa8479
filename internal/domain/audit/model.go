package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of auth event recorded
type EventType string

const (
	EventCreate EventType = "create"
	EventLogin  EventType = "login"
	EventLogout EventType = "logout"
)

// Valid reports whether t is one of the recorded event types
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventLogin, EventLogout:
		return true
	}
	return false
}

var (
	ErrEventNotFound = errors.New("auth event not found")
	ErrInvalidEvent  = errors.New("invalid auth event")
	ErrInvalidSort   = errors.New("invalid sort field")
	// ErrWriteFailed wraps persistence failures; handlers surface it as a warning.
	ErrWriteFailed = errors.New("audit write failed")
)

// AuthEvent is an append-only record of a login, logout or registration.
// Ordering always uses ServerTimestamp; ClientTimestamp is informational.
type AuthEvent struct {
	ID              uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubjectID       string     `gorm:"column:subject_id;type:varchar(128);not null;index" json:"subject_id"`
	DeviceID        string     `gorm:"column:device_id;type:varchar(128);not null;index" json:"device_id"`
	EventType       EventType  `gorm:"column:event_type;type:varchar(16);not null;index" json:"event_type"`
	IP              string     `gorm:"column:ip;type:text" json:"ip,omitempty"`
	UserAgent       string     `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	ServerTimestamp time.Time  `gorm:"column:server_timestamp;not null;index" json:"server_timestamp"`
	ClientTimestamp *time.Time `gorm:"column:client_timestamp" json:"client_timestamp,omitempty"`
}

func (AuthEvent) TableName() string {
	return "auth_events"
}

// Entry is what callers hand to the recorder
type Entry struct {
	SubjectID       string
	DeviceID        string
	Type            EventType
	IP              string
	UserAgent       string
	ClientTimestamp *time.Time
}

// Filter narrows a query; zero fields match everything
type Filter struct {
	SubjectID string
	DeviceID  string
	Type      EventType
	From      *time.Time
	To        *time.Time
}

// Page is limit/offset pagination
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Normalize clamps the page to the supported bounds
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Sort orders query results by a whitelisted column
type Sort struct {
	Field string
	Desc  bool
}

var sortable = map[string]bool{
	"server_timestamp": true,
	"client_timestamp": true,
	"event_type":       true,
	"subject_id":       true,
	"device_id":        true,
}

// DefaultSort is newest first
var DefaultSort = Sort{Field: "server_timestamp", Desc: true}

// ParseSort validates field against the whitelist. order is "asc" or
// "desc"; empty field means DefaultSort.
func ParseSort(field, order string) (Sort, error) {
	if field == "" {
		field = DefaultSort.Field
	}
	if !sortable[field] {
		return Sort{}, ErrInvalidSort
	}
	switch order {
	case "", "desc":
		return Sort{Field: field, Desc: true}, nil
	case "asc":
		return Sort{Field: field}, nil
	default:
		return Sort{}, ErrInvalidSort
	}
}

// Result is one page of events plus the total matching count
type Result struct {
	Events []*AuthEvent `json:"events"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
