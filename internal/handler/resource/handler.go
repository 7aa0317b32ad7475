package resource

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/halaqat/scheduler-api/pkg/errors"
	"github.com/halaqat/scheduler-api/pkg/httputil"

	"github.com/halaqat/scheduler-api/internal/model"
	"github.com/halaqat/scheduler-api/internal/repository"
	"github.com/halaqat/scheduler-api/internal/service/resourcepool"
	"github.com/halaqat/scheduler-api/internal/service/scheduler"
)

type Handler struct {
	pool      *resourcepool.Service
	scheduler *scheduler.Service
}

func NewHandler(pool *resourcepool.Service, sched *scheduler.Service) *Handler {
	return &Handler{pool: pool, scheduler: sched}
}

func (h *Handler) CreateResource(c *gin.Context) {
	var req model.CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	created, err := h.pool.CreateResource(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, created)
}

func (h *Handler) GetResource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid resource ID"))
		return
	}

	found, err := h.pool.GetResource(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, found)
}

func (h *Handler) UpdateResource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid resource ID"))
		return
	}

	var req model.UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation(err.Error()))
		return
	}

	updated, err := h.pool.UpdateResource(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, updated)
}

func (h *Handler) ListResources(c *gin.Context) {
	resources, err := h.pool.ListResources(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, resources)
}

// ListAvailability answers "which resources are free for this window"
// without reserving anything.
func (h *Handler) ListAvailability(c *gin.Context) {
	date := c.Query("date")
	startTime := c.Query("start")
	endTime := c.Query("end")
	if date == "" || startTime == "" || endTime == "" {
		httputil.RespondWithError(c, apperrors.NewValidation("date, start and end are required"))
		return
	}

	capacity := 1
	if raw := c.Query("capacity"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.RespondWithError(c, apperrors.NewValidation("invalid capacity"))
			return
		}
		capacity = parsed
	}

	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid date: "+date))
		return
	}
	startsAt, err := clockOn(day, startTime)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid start time: "+startTime))
		return
	}
	endsAt, err := clockOn(day, endTime)
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewValidation("invalid end time: "+endTime))
		return
	}

	q := repository.AvailabilityQuery{
		Day:       weekdayName(day.Weekday()),
		StartTime: startTime,
		EndTime:   endTime,
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		Capacity:  capacity,
	}

	resources, err := h.pool.ListAvailable(c.Request.Context(), q)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, resources)
}

// ReleaseExpired force-releases every reservation whose window has
// elapsed. Recovery endpoint for stuck reservations.
func (h *Handler) ReleaseExpired(c *gin.Context) {
	summary, err := h.scheduler.ReleaseAllExpired(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, summary)
}

func clockOn(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

func weekdayName(d time.Weekday) string {
	names := map[time.Weekday]string{
		time.Sunday:    "sunday",
		time.Monday:    "monday",
		time.Tuesday:   "tuesday",
		time.Wednesday: "wednesday",
		time.Thursday:  "thursday",
		time.Friday:    "friday",
		time.Saturday:  "saturday",
	}
	return names[d]
}
