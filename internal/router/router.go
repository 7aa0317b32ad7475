package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/halaqat/scheduler-api/internal/handler/health"
	"github.com/halaqat/scheduler-api/internal/handler/resource"
	"github.com/halaqat/scheduler-api/internal/handler/session"
	"github.com/halaqat/scheduler-api/internal/handler/student"
	"github.com/halaqat/scheduler-api/internal/middleware"
	"github.com/halaqat/scheduler-api/pkg/metrics"
)

type Config struct {
	RateLimit rate.Limit
	RateBurst int
	CORS      middleware.CORSConfig
	Timeout   middleware.TimeoutConfig
}

type Router struct {
	engine   *gin.Engine
	sessionH *session.Handler
	resource *resource.Handler
	studentH *student.Handler
	healthH  *health.Handler
}

// registerValidations adds the HH:MM wall-clock format used by session
// and time-slot requests.
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("15:04", fl.Field().String())
			return err == nil
		})
	}
}

func New(cfg Config, m *metrics.Metrics, sessionH *session.Handler, resourceH *resource.Handler, studentH *student.Handler, healthH *health.Handler) *Router {
	registerValidations()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())
	engine.Use(middleware.ErrorHandler())
	engine.Use(middleware.CORS(cfg.CORS))
	engine.Use(middleware.Timeout(cfg.Timeout))
	if m != nil {
		engine.Use(middleware.Metrics(m))
	}
	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  cfg.RateLimit,
			Burst: cfg.RateBurst,
		})
		engine.Use(limiter.RateLimit())
	}

	r := &Router{
		engine:   engine,
		sessionH: sessionH,
		resource: resourceH,
		studentH: studentH,
		healthH:  healthH,
	}
	r.register()
	return r
}

func (r *Router) register() {
	r.engine.GET("/health/live", r.healthH.Live)
	r.engine.GET("/health/ready", r.healthH.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.engine.Group("/api/v1")

	sessions := v1.Group("/sessions")
	{
		sessions.POST("", r.sessionH.CreateSession)
		sessions.GET("", r.sessionH.ListSessions)
		sessions.GET("/:id", r.sessionH.GetSession)
		sessions.PUT("/:id", r.sessionH.UpdateSession)
		sessions.DELETE("/:id", r.sessionH.DeleteSession)
		sessions.POST("/:id/transition", r.sessionH.TransitionSession)
		sessions.GET("/:id/automation-events", r.sessionH.ListAutomationEvents)
		sessions.POST("/:id/reminders", r.sessionH.SendReminder)
		sessions.POST("/:id/groups/:groupId/notify", r.sessionH.Notify)
	}

	resources := v1.Group("/resources")
	{
		resources.POST("", r.resource.CreateResource)
		resources.GET("", r.resource.ListResources)
		resources.GET("/availability", r.resource.ListAvailability)
		resources.POST("/release-expired", r.resource.ReleaseExpired)
		resources.GET("/:id", r.resource.GetResource)
		resources.PUT("/:id", r.resource.UpdateResource)
	}

	v1.POST("/groups/:id/sessions/generate", r.sessionH.GenerateSessions)
	v1.GET("/students/:id/reminders", r.studentH.ListReminders)
}

// Engine exposes the underlying gin engine for the HTTP server.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
