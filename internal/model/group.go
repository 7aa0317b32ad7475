package model

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Group is the unit of recipient resolution for notifications: a roster
// of students plus a recurrence schedule sessions are generated from.
type Group struct {
	Base
	CourseID          uuid.UUID      `db:"course_id" json:"course_id"`
	Name              string         `db:"name" json:"name"`
	Timezone          string         `db:"timezone" json:"timezone"`
	DaysOfWeek        pq.StringArray `db:"days_of_week" json:"days_of_week"`
	TimeFrom          string         `db:"time_from" json:"time_from"`
	TimeTo            string         `db:"time_to" json:"time_to"`
	RemindersEnabled  bool           `db:"reminders_enabled" json:"reminders_enabled"`
	BroadcastsEnabled bool           `db:"broadcasts_enabled" json:"broadcasts_enabled"`
	NotifyGuardians   bool           `db:"notify_guardians" json:"notify_guardians"`
}

// AutomationEnabledFor reports whether the group wants notifications
// for the given event type.
func (g *Group) AutomationEnabledFor(eventType string) bool {
	if eventType == EventReminder24Hours || eventType == EventReminder1Hour {
		return g.RemindersEnabled
	}
	return g.BroadcastsEnabled
}

// Student is one enrolled member of a group together with the guardian
// contact used for guardian notifications.
type Student struct {
	Base
	Name     string `db:"name" json:"name"`
	Gender   string `db:"gender" json:"gender"`
	Phone    string `db:"phone" json:"phone"`
	Email    string `db:"email" json:"email"`
	Language string `db:"language" json:"language"`
	Channel  string `db:"channel" json:"channel"`

	GuardianName     string `db:"guardian_name" json:"guardian_name"`
	GuardianPhone    string `db:"guardian_phone" json:"guardian_phone"`
	GuardianEmail    string `db:"guardian_email" json:"guardian_email"`
	GuardianRelation string `db:"guardian_relation" json:"guardian_relation"`
}

// Genders and guardian relations used for salutation rendering.
const (
	GenderMale   = "male"
	GenderFemale = "female"

	RelationFather = "father"
	RelationMother = "mother"
)

// Communication channels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// Languages. Arabic is the default communication preference.
const (
	LanguageArabic  = "ar"
	LanguageEnglish = "en"
)
