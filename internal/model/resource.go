package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ResourceStatus string

const (
	ResourceStatusAvailable   ResourceStatus = "available"
	ResourceStatusReserved    ResourceStatus = "reserved"
	ResourceStatusMaintenance ResourceStatus = "maintenance"
)

// TimeSlot is a wall-clock time-of-day range in HH:MM form.
type TimeSlot struct {
	Start string `json:"start" binding:"required,hhmm"`
	End   string `json:"end" binding:"required,hhmm"`
}

// Covers reports whether the slot fully contains the given window.
func (s TimeSlot) Covers(start, end string) bool {
	return s.Start <= start && end <= s.End
}

// TimeSlots is stored as a JSONB column.
type TimeSlots []TimeSlot

func (s TimeSlots) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *TimeSlots) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeSlots", src)
	}
}

// Resource is a bookable meeting endpoint with capacity and allowed
// scheduling windows. At most one active reservation exists per resource.
type Resource struct {
	Base
	Name             string         `db:"name" json:"name"`
	Platform         string         `db:"platform" json:"platform"`
	MeetingLink      string         `db:"meeting_link" json:"meeting_link"`
	Capacity         int            `db:"capacity" json:"capacity"`
	AllowedDays      pq.StringArray `db:"allowed_days" json:"allowed_days"`
	AllowedTimeSlots TimeSlots      `db:"allowed_time_slots" json:"allowed_time_slots"`
	Status           ResourceStatus `db:"status" json:"status"`

	ReservedSessionID *uuid.UUID `db:"reserved_session_id" json:"reserved_session_id,omitempty"`
	ReservedGroupID   *uuid.UUID `db:"reserved_group_id" json:"reserved_group_id,omitempty"`
	ReservedFrom      *time.Time `db:"reserved_from" json:"reserved_from,omitempty"`
	ReservedUntil     *time.Time `db:"reserved_until" json:"reserved_until,omitempty"`

	TotalUses  int     `db:"total_uses" json:"total_uses"`
	TotalHours float64 `db:"total_hours" json:"total_hours"`
}

// Reservation is a time-bounded exclusive claim of a resource by one session.
type Reservation struct {
	SessionID uuid.UUID `json:"session_id"`
	GroupID   uuid.UUID `json:"group_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CurrentReservation returns the active reservation, if any.
func (r *Resource) CurrentReservation() *Reservation {
	if r.ReservedSessionID == nil || r.ReservedFrom == nil || r.ReservedUntil == nil {
		return nil
	}
	res := &Reservation{
		SessionID: *r.ReservedSessionID,
		StartTime: *r.ReservedFrom,
		EndTime:   *r.ReservedUntil,
	}
	if r.ReservedGroupID != nil {
		res.GroupID = *r.ReservedGroupID
	}
	return res
}

// AllowsDay reports whether the resource may be booked on the given weekday.
func (r *Resource) AllowsDay(day time.Weekday) bool {
	name := strings.ToLower(day.String())
	for _, d := range r.AllowedDays {
		if strings.ToLower(d) == name {
			return true
		}
	}
	return false
}

// AllowsWindow reports whether any allowed slot covers the HH:MM window.
func (r *Resource) AllowsWindow(start, end string) bool {
	for _, slot := range r.AllowedTimeSlots {
		if slot.Covers(start, end) {
			return true
		}
	}
	return false
}

type CreateResourceRequest struct {
	Name             string     `json:"name" binding:"required"`
	Platform         string     `json:"platform" binding:"required"`
	MeetingLink      string     `json:"meeting_link" binding:"required,url"`
	Capacity         int        `json:"capacity" binding:"required,min=1"`
	AllowedDays      []string   `json:"allowed_days" binding:"required,min=1"`
	AllowedTimeSlots []TimeSlot `json:"allowed_time_slots" binding:"required,min=1"`
}

type UpdateResourceRequest struct {
	Name             *string         `json:"name"`
	MeetingLink      *string         `json:"meeting_link"`
	Capacity         *int            `json:"capacity"`
	AllowedDays      []string        `json:"allowed_days"`
	AllowedTimeSlots []TimeSlot      `json:"allowed_time_slots"`
	Status           *ResourceStatus `json:"status"`
}

// ReleaseSummary reports the outcome of a bulk release.
type ReleaseSummary struct {
	Released int `json:"released"`
	Failed   int `json:"failed"`
}
