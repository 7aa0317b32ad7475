package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"
	"github.com/halaqat/scheduler-api/pkg/httputil"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/service/notifier"
	"github.com/halaqat/scheduler-api/internal/service/reminder"
	"github.com/halaqat/scheduler-api/internal/service/session"
)

type Handler struct {
	sessions  *session.Service
	reminders *reminder.Service
	notifier  *notifier.Service
}

func NewHandler(sessions *session.Service, reminders *reminder.Service, n *notifier.Service) *Handler {
	return &Handler{sessions: sessions, reminders: reminders, notifier: n}
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	created, err := h.sessions.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, created)
}

func (h *Handler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}

	found, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, found)
}

func (h *Handler) ListSessions(c *gin.Context) {
	filters := &model.SessionFilters{}

	if id := c.Query("group_id"); id != "" {
		groupID, err := uuid.Parse(id)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewValidation("invalid group ID"))
			return
		}
		filters.GroupID = groupID
	}
	if id := c.Query("course_id"); id != "" {
		courseID, err := uuid.Parse(id)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewValidation("invalid course ID"))
			return
		}
		filters.CourseID = courseID
	}
	if status := c.Query("status"); status != "" {
		filters.Status = model.SessionStatus(status)
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewValidation("invalid from date, expected YYYY-MM-DD"))
			return
		}
		filters.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httputil.RespondWithError(c, apperrors.NewValidation("invalid to date, expected YYYY-MM-DD"))
			return
		}
		filters.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	sessions, err := h.sessions.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, sessions)
}

func (h *Handler) UpdateSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}

	var req model.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	updated, err := h.sessions.UpdateSchedule(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, updated)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}

	if err := h.sessions.SoftDelete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) TransitionSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}

	var req model.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	result, err := h.sessions.Transition(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

func (h *Handler) ListAutomationEvents(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}

	events, err := h.sessions.GetAutomationEvents(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, events)
}

// GenerateSessions expands a group's recurrence schedule into sessions
// between two dates.
func (h *Handler) GenerateSessions(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid group ID"))
		return
	}

	var req model.GenerateSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	sessions, err := h.sessions.GenerateFromGroup(c.Request.Context(), groupID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, sessions)
}

// SendReminder triggers a reminder on demand, outside the scanner's
// windows.
func (h *Handler) SendReminder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}

	var req model.SendReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	summary, err := h.reminders.TriggerManual(c.Request.Context(), id, req.ReminderType)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, summary)
}

// Notify renders the message for one recipient, optionally sending it.
func (h *Handler) Notify(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid session ID"))
		return
	}
	groupID, err := uuid.Parse(c.Param("groupId"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid group ID"))
		return
	}

	var req model.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	message, record, err := h.notifier.NotifyOne(c.Request.Context(), sessionID, groupID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{
		"message": message,
		"record":  record,
	})
}
