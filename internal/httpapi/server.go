// Package httpapi exposes the engine over HTTP: the cron tick endpoint,
// event ingestion, workflow management and instance inspection.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/petrijr/tickflow/pkg/api"
)

// CronSecretHeader authenticates calls to the tick endpoint.
const CronSecretHeader = "X-Cron-Secret"

// Options configures a Server.
type Options struct {
	// CronSecret, when set, must be sent in CronSecretHeader.
	CronSecret string
	// TickTimeout bounds a single tick. Zero means no bound.
	TickTimeout time.Duration
	Logger      *slog.Logger
	Clock       func() time.Time

	// Metrics, when set, is served on MetricsPath (default /metrics).
	Metrics     http.Handler
	MetricsPath string
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	engine api.Engine
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(engine api.Engine, opts Options) *Server {
	s := &Server{engine: engine, opts: opts, logger: opts.Logger, now: opts.Clock}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Echo builds the router with every route registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	s.Register(e)
	return e
}

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.Health)
	if s.opts.Metrics != nil {
		path := s.opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(s.opts.Metrics))
	}

	e.GET("/cron/tick", s.Tick)
	e.POST("/cron/tick", s.Tick)

	t := e.Group("/tenants/:tenant")
	t.POST("/events", s.Dispatch)
	t.PUT("/workflows/:id", s.PutWorkflow)
	t.GET("/workflows/:id", s.GetWorkflow)
	t.POST("/workflows/:id/active", s.SetWorkflowActive)
	t.GET("/states/:id", s.GetState)
	t.GET("/states/:id/logs", s.ListRunLogs)
}

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// TickResponse is the body returned by the tick endpoint.
type TickResponse struct {
	Success   bool                   `json:"success"`
	Summary   *api.ProcessingSummary `json:"summary,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Tick runs one scheduler sweep
// (GET|POST /cron/tick)
func (s *Server) Tick(c echo.Context) error {
	if s.opts.CronSecret != "" {
		got := c.Request().Header.Get(CronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.CronSecret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid cron secret")
		}
	}

	ctx := c.Request().Context()
	if s.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TickTimeout)
		defer cancel()
	}

	summary, err := s.engine.RunOnce(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "tick failed", "error", err)
		return c.JSON(http.StatusInternalServerError, TickResponse{
			Success:   false,
			Error:     err.Error(),
			Timestamp: s.now().UTC(),
		})
	}
	return c.JSON(http.StatusOK, TickResponse{
		Success:   true,
		Summary:   summary,
		Timestamp: s.now().UTC(),
	})
}

// Dispatch reports a domain event for a tenant
// (POST /tenants/:tenant/events)
func (s *Server) Dispatch(c echo.Context) error {
	var req api.TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	req.TenantID = c.Param("tenant")

	res, err := s.engine.Dispatch(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// PutWorkflow creates or replaces a workflow definition
// (PUT /tenants/:tenant/workflows/:id)
func (s *Server) PutWorkflow(c echo.Context) error {
	// Omitting is_active keeps the workflow active, as in definition files.
	def := api.WorkflowDefinition{IsActive: true}
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	def.TenantID = c.Param("tenant")
	def.ID = c.Param("id")

	if err := s.engine.SaveWorkflow(c.Request().Context(), &def); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) GetWorkflow(c echo.Context) error {
	def, err := s.engine.GetWorkflow(c.Request().Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, def)
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (s *Server) SetWorkflowActive(c echo.Context) error {
	var req activeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := s.engine.SetWorkflowActive(c.Request().Context(), c.Param("tenant"), c.Param("id"), req.Active); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) GetState(c echo.Context) error {
	st, err := s.engine.GetState(c.Request().Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) ListRunLogs(c echo.Context) error {
	logs, err := s.engine.ListRunLogs(c.Request().Context(), c.Param("tenant"), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	if logs == nil {
		logs = []api.RunLog{}
	}
	return c.JSON(http.StatusOK, logs)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, api.ErrWorkflowNotFound), errors.Is(err, api.ErrStateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, api.ErrInvalidWorkflow), errors.Is(err, api.ErrInvalidTrigger):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
