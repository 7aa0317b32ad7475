package student

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"
	"github.com/halaqat/scheduler-api/pkg/httputil"

	"github.com/halaqat/scheduler-api/internal/service/notifier"
)

type Handler struct {
	notifier *notifier.Service
}

func NewHandler(n *notifier.Service) *Handler {
	return &Handler{notifier: n}
}

// ListReminders returns the student's reminder history grouped per
// session, with sent/failed counts and the last reminder date.
func (h *Handler) ListReminders(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid student ID"))
		return
	}

	audits, err := h.notifier.StudentReminderAudit(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, audits)
}
