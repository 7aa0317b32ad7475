package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/halaqat/scheduler-api/internal/model"
)

// Store resolves message template bodies. Template content lives outside
// this service; the renderer only consumes bodies by variable name.
type Store interface {
	Get(key string, role model.RecipientRole, language string) (string, error)
}

// Renderer renders a localized, personalized message for one recipient.
type Renderer interface {
	Render(key string, role model.RecipientRole, language string, vars map[string]string) (string, error)
}

type renderer struct {
	store Store
}

func NewRenderer(store Store) Renderer {
	return &renderer{store: store}
}

// Render substitutes {name}-style variables into the template body.
// Missing variables are left in place so operators can spot them in
// previews instead of receiving silently broken messages.
func (r *renderer) Render(key string, role model.RecipientRole, language string, vars map[string]string) (string, error) {
	body, err := r.store.Get(key, role, language)
	if err != nil {
		return "", fmt.Errorf("failed to resolve template: %w", err)
	}

	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(body), nil
}

// Salutation computes the greeting variable from gender, guardian
// relationship and language preference.
func Salutation(role model.RecipientRole, gender, relation, language string) string {
	if language == model.LanguageArabic {
		if role == model.RoleGuardian {
			if relation == model.RelationMother {
				return "والدة الطالب الكريمة"
			}
			return "ولي أمر الطالب الكريم"
		}
		if gender == model.GenderFemale {
			return "عزيزتي الطالبة"
		}
		return "عزيزي الطالب"
	}

	if role == model.RoleGuardian {
		return "Dear guardian"
	}
	return "Dear student"
}

// MemoryStore is a Store backed by an in-process map, used as the
// default when no external template source is configured and in tests.
type MemoryStore struct {
	templates map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: defaultTemplates()}
}

func (s *MemoryStore) Get(key string, role model.RecipientRole, language string) (string, error) {
	if body, ok := s.templates[storeKey(key, role, language)]; ok {
		return body, nil
	}
	// Fall back to the Arabic default before giving up.
	if language != model.LanguageArabic {
		if body, ok := s.templates[storeKey(key, role, model.LanguageArabic)]; ok {
			return body, nil
		}
	}
	return "", fmt.Errorf("no template for key=%s role=%s language=%s", key, role, language)
}

// Set registers or replaces a template body.
func (s *MemoryStore) Set(key string, role model.RecipientRole, language, body string) {
	s.templates[storeKey(key, role, language)] = body
}

// Keys lists registered template keys, for operator tooling.
func (s *MemoryStore) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func storeKey(key string, role model.RecipientRole, language string) string {
	return key + ":" + string(role) + ":" + language
}

func defaultTemplates() map[string]string {
	t := map[string]string{}
	set := func(key string, role model.RecipientRole, language, body string) {
		t[storeKey(key, role, language)] = body
	}

	set(model.EventSessionCancelled, model.RoleStudent, model.LanguageArabic,
		"{salutation} {studentName}، نأسف لإبلاغك بإلغاء حصة {groupName} بتاريخ {sessionDate} الساعة {sessionTime}. السبب: {reason}")
	set(model.EventSessionCancelled, model.RoleGuardian, model.LanguageArabic,
		"{salutation} {guardianName}، نأسف لإبلاغكم بإلغاء حصة {groupName} للطالب {studentName} بتاريخ {sessionDate} الساعة {sessionTime}. السبب: {reason}")
	set(model.EventSessionCancelled, model.RoleStudent, model.LanguageEnglish,
		"{salutation} {studentName}, we are sorry to inform you that the {groupName} session on {sessionDate} at {sessionTime} has been cancelled. Reason: {reason}")
	set(model.EventSessionCancelled, model.RoleGuardian, model.LanguageEnglish,
		"{salutation} {guardianName}, the {groupName} session for {studentName} on {sessionDate} at {sessionTime} has been cancelled. Reason: {reason}")

	set(model.EventSessionPostponed, model.RoleStudent, model.LanguageArabic,
		"{salutation} {studentName}، تم تأجيل حصة {groupName} التي كانت مقررة بتاريخ {sessionDate} الساعة {sessionTime}. سنوافيكم بالموعد الجديد قريباً.")
	set(model.EventSessionPostponed, model.RoleGuardian, model.LanguageArabic,
		"{salutation} {guardianName}، تم تأجيل حصة {groupName} للطالب {studentName} التي كانت مقررة بتاريخ {sessionDate} الساعة {sessionTime}.")
	set(model.EventSessionPostponed, model.RoleStudent, model.LanguageEnglish,
		"{salutation} {studentName}, the {groupName} session scheduled for {sessionDate} at {sessionTime} has been postponed. A new time will follow shortly.")
	set(model.EventSessionPostponed, model.RoleGuardian, model.LanguageEnglish,
		"{salutation} {guardianName}, the {groupName} session for {studentName} scheduled for {sessionDate} at {sessionTime} has been postponed.")

	set(model.EventSessionRescheduled, model.RoleStudent, model.LanguageArabic,
		"{salutation} {studentName}، تم تحديد موعد جديد لحصة {groupName}: {sessionDate} الساعة {sessionTime}. رابط الحصة: {meetingLink}")
	set(model.EventSessionRescheduled, model.RoleGuardian, model.LanguageArabic,
		"{salutation} {guardianName}، تم تحديد موعد جديد لحصة {groupName} للطالب {studentName}: {sessionDate} الساعة {sessionTime}.")
	set(model.EventSessionRescheduled, model.RoleStudent, model.LanguageEnglish,
		"{salutation} {studentName}, the {groupName} session has been rescheduled to {sessionDate} at {sessionTime}. Meeting link: {meetingLink}")
	set(model.EventSessionRescheduled, model.RoleGuardian, model.LanguageEnglish,
		"{salutation} {guardianName}, the {groupName} session for {studentName} has been rescheduled to {sessionDate} at {sessionTime}.")

	set(model.EventSessionCompleted, model.RoleStudent, model.LanguageArabic,
		"{salutation} {studentName}، شكراً لحضورك حصة {groupName} بتاريخ {sessionDate}. نراك في الحصة القادمة.")
	set(model.EventSessionCompleted, model.RoleGuardian, model.LanguageArabic,
		"{salutation} {guardianName}، انتهت حصة {groupName} للطالب {studentName} بتاريخ {sessionDate} الساعة {sessionTime}.")
	set(model.EventSessionCompleted, model.RoleStudent, model.LanguageEnglish,
		"{salutation} {studentName}, thank you for attending the {groupName} session on {sessionDate}. See you next time.")
	set(model.EventSessionCompleted, model.RoleGuardian, model.LanguageEnglish,
		"{salutation} {guardianName}, the {groupName} session for {studentName} on {sessionDate} at {sessionTime} has finished.")

	set(model.EventReminder24Hours, model.RoleStudent, model.LanguageArabic,
		"{salutation} {studentName}، نذكرك بحصة {groupName} غداً بتاريخ {sessionDate} الساعة {sessionTime}. رابط الحصة: {meetingLink}")
	set(model.EventReminder24Hours, model.RoleGuardian, model.LanguageArabic,
		"{salutation} {guardianName}، نذكركم بحصة {groupName} للطالب {studentName} غداً بتاريخ {sessionDate} الساعة {sessionTime}.")
	set(model.EventReminder24Hours, model.RoleStudent, model.LanguageEnglish,
		"{salutation} {studentName}, a reminder that your {groupName} session is tomorrow, {sessionDate} at {sessionTime}. Meeting link: {meetingLink}")
	set(model.EventReminder24Hours, model.RoleGuardian, model.LanguageEnglish,
		"{salutation} {guardianName}, a reminder that the {groupName} session for {studentName} is tomorrow, {sessionDate} at {sessionTime}.")

	set(model.EventReminder1Hour, model.RoleStudent, model.LanguageArabic,
		"{salutation} {studentName}، حصة {groupName} تبدأ خلال ساعة، الساعة {sessionTime}. رابط الحصة: {meetingLink}")
	set(model.EventReminder1Hour, model.RoleGuardian, model.LanguageArabic,
		"{salutation} {guardianName}، حصة {groupName} للطالب {studentName} تبدأ خلال ساعة، الساعة {sessionTime}.")
	set(model.EventReminder1Hour, model.RoleStudent, model.LanguageEnglish,
		"{salutation} {studentName}, your {groupName} session starts in one hour at {sessionTime}. Meeting link: {meetingLink}")
	set(model.EventReminder1Hour, model.RoleGuardian, model.LanguageEnglish,
		"{salutation} {guardianName}, the {groupName} session for {studentName} starts in one hour at {sessionTime}.")

	return t
}
