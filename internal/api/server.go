package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"lmscal/internal/config"
	"lmscal/internal/ics"
	appLog "lmscal/internal/log"
	"lmscal/internal/model"
	"lmscal/internal/service"
	"lmscal/internal/store"
)

// Server exposes the calendar over HTTP.
type Server struct {
	cfg    *config.Config
	cal    *service.Calendar
	engine *gin.Engine

	// In-memory cache for the ICS feed. Rendering the feed re-runs the
	// whole expand/dedup pipeline, so feed requests are served from a
	// short-lived snapshot. The cron refresh loop primes it.
	feedMu    sync.RWMutex
	feedCache *feedCache
}

type feedCache struct {
	body      string
	updatedAt time.Time
}

const feedCacheTTL = 5 * time.Minute

// NewServer constructs the HTTP server and registers all routes.
func NewServer(cfg *config.Config, cal *service.Calendar) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		cal:    cal,
		engine: gin.New(),
	}

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("recurrence", validRecurrence)
	}

	s.engine.Use(gin.Recovery(), requestID(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/calendar", s.handleWindow)
	api.GET("/calendar/month", s.handleMonth)
	api.GET("/calendar/upcoming", s.handleUpcoming)

	api.POST("/events/recurring", s.handleCreateTemplate)
	api.DELETE("/events/recurring/:id", s.handleDeactivateTemplate)

	api.POST("/events/:id/register", s.handleRegister)
	api.DELETE("/events/:id/register", s.handleUnregister)

	s.engine.GET("/calendar.ics", s.handleFeed)
}

// requestID tags every request with an id for log correlation. An
// incoming X-Request-ID is honored so upstream proxies can trace calls.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		appLog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		)
	}
}

func validRecurrence(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "daily", "weekly", "biweekly", "monthly":
		return true
	}
	return false
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// windowResponse is the JSON shape shared by the calendar read endpoints.
type windowResponse struct {
	Events      []model.CanonicalEvent `json:"events"`
	Diagnostics []string               `json:"diagnostics,omitempty"`
	RangeStart  time.Time              `json:"range_start"`
	RangeEnd    time.Time              `json:"range_end"`
}

func (s *Server) windowResponse(res service.WindowResult) windowResponse {
	diags := make([]string, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		diags = append(diags, d.String())
	}
	return windowResponse{
		Events:      res.Events,
		Diagnostics: diags,
		RangeStart:  res.WindowStart,
		RangeEnd:    res.WindowEnd,
	}
}

// handleWindow returns deduplicated events for an arbitrary window.
//
// GET /api/calendar?start=RFC3339&end=RFC3339&group_ids=1,2
func (s *Server) handleWindow(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start, want RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end, want RFC3339"})
		return
	}

	groupIDs, err := parseGroupIDs(c.Query("group_ids"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.cal.Window(groupIDs, start, end)
	if err != nil {
		appLog.Error("calendar window failed", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build calendar"})
		return
	}
	c.JSON(http.StatusOK, s.windowResponse(res))
}

// handleMonth returns one calendar month in the configured display timezone.
//
// GET /api/calendar/month?year=2026&month=2&group_ids=1,2
func (s *Server) handleMonth(c *gin.Context) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 1970 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return
	}

	groupIDs, err := parseGroupIDs(c.Query("group_ids"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.cal.Month(groupIDs, year, time.Month(month), s.location())
	if err != nil {
		appLog.Error("calendar month failed", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build calendar"})
		return
	}
	c.JSON(http.StatusOK, s.windowResponse(res))
}

// handleUpcoming returns the next events from now.
//
// GET /api/calendar/upcoming?days=7&limit=10&group_ids=1,2
func (s *Server) handleUpcoming(c *gin.Context) {
	days := parseIntDefault(c.Query("days"), 7)
	if days <= 0 {
		days = 7
	}
	limit := parseIntDefault(c.Query("limit"), 10)

	groupIDs, err := parseGroupIDs(c.Query("group_ids"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.cal.Upcoming(groupIDs, time.Now().In(s.location()), days, limit)
	if err != nil {
		appLog.Error("calendar upcoming failed", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build calendar"})
		return
	}
	c.JSON(http.StatusOK, s.windowResponse(res))
}

// createTemplateRequest is the payload for POST /api/events/recurring.
type createTemplateRequest struct {
	Title             string          `json:"title" binding:"required"`
	Description       string          `json:"description"`
	EventType         string          `json:"event_type" binding:"required,oneof=class exam meeting webinar other"`
	Location          string          `json:"location"`
	IsOnline          bool            `json:"is_online"`
	MeetingURL        string          `json:"meeting_url" binding:"omitempty,url"`
	CreatedBy         int64           `json:"created_by" binding:"required,gt=0"`
	StartAt           time.Time       `json:"start_at" binding:"required"`
	EndAt             time.Time       `json:"end_at" binding:"required,gtfield=StartAt"`
	RecurrencePattern string          `json:"recurrence_pattern" binding:"required,recurrence"`
	RecurrenceEnd     *time.Time      `json:"recurrence_end"`
	MaxParticipants   int             `json:"max_participants" binding:"gte=0"`
	GroupIDs          []model.GroupID `json:"group_ids" binding:"required,min=1,dive,gt=0"`
}

func (s *Server) handleCreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tmpl := model.EventTemplate{
		Title:             req.Title,
		Description:       req.Description,
		EventType:         req.EventType,
		Location:          req.Location,
		IsOnline:          req.IsOnline,
		MeetingURL:        req.MeetingURL,
		CreatedBy:         req.CreatedBy,
		StartAt:           req.StartAt,
		EndAt:             req.EndAt,
		RecurrencePattern: req.RecurrencePattern,
		RecurrenceEnd:     req.RecurrenceEnd,
		MaxParticipants:   req.MaxParticipants,
		GroupIDs:          req.GroupIDs,
		Active:            true,
	}
	if err := s.cal.CreateTemplate(&tmpl); err != nil {
		appLog.Error("create template failed", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create recurring event"})
		return
	}
	s.invalidateFeed()
	c.JSON(http.StatusCreated, gin.H{"id": tmpl.ID})
}

func (s *Server) handleDeactivateTemplate(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.cal.DeactivateTemplate(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recurring event not found"})
			return
		}
		appLog.Error("deactivate template failed", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate recurring event"})
		return
	}
	s.invalidateFeed()
	c.Status(http.StatusNoContent)
}

type registerRequest struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

// handleRegister signs a user up for an event. Virtual ids are accepted;
// the occurrence is materialized before the participant row is written.
func (s *Server) handleRegister(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := s.cal.Register(id, req.UserID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"event_id": ev.ID})
	case errors.Is(err, service.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": "already registered"})
	case errors.Is(err, service.ErrEventFull):
		c.JSON(http.StatusConflict, gin.H{"error": "event is full"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	default:
		appLog.Error("register failed", err, "event_id", id, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
	}
}

func (s *Server) handleUnregister(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.cal.Unregister(id, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "registration not found"})
			return
		}
		appLog.Error("unregister failed", err, "event_id", id, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unregister"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleFeed serves the whole calendar horizon as an ICS feed.
//
// GET /calendar.ics
func (s *Server) handleFeed(c *gin.Context) {
	now := time.Now()

	s.feedMu.RLock()
	fc := s.feedCache
	s.feedMu.RUnlock()
	if fc != nil && now.Sub(fc.updatedAt) < feedCacheTTL {
		c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(fc.body))
		return
	}

	body, err := s.renderFeed(now)
	if err != nil {
		appLog.Error("feed render failed", err, "request_id", c.GetString("request_id"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render feed"})
		return
	}
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// RefreshFeed re-renders the ICS snapshot. The cron loop in cmd/lmscal
// calls this so feed requests normally hit a warm cache.
func (s *Server) RefreshFeed() error {
	_, err := s.renderFeed(time.Now())
	return err
}

func (s *Server) renderFeed(now time.Time) (string, error) {
	loc := s.location()
	start := now.In(loc).AddDate(0, 0, -1)
	end := start.AddDate(0, 0, s.cfg.HorizonDays)

	res, err := s.cal.Window(nil, start, end)
	if err != nil {
		return "", err
	}
	body := ics.Feed("LMS Calendar", res.Events)

	s.feedMu.Lock()
	s.feedCache = &feedCache{body: body, updatedAt: time.Now()}
	s.feedMu.Unlock()
	return body, nil
}

func (s *Server) invalidateFeed() {
	s.feedMu.Lock()
	s.feedCache = nil
	s.feedMu.Unlock()
}

func (s *Server) location() *time.Location {
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		appLog.Warn("invalid timezone in config, using local", "name", s.cfg.Timezone)
		return time.Local
	}
	return loc
}

func parseGroupIDs(raw string) ([]model.GroupID, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]model.GroupID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			return nil, errors.New("invalid group_ids, want comma-separated positive integers")
		}
		out = append(out, model.GroupID(n))
	}
	return out, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
