package analytics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/respond"
)

// Handler exposes the tracker over HTTP. Routes are registered on an
// admin-guarded group.
type Handler struct {
	tracker *UsageTracker
}

// NewHandler creates a Handler backed by the given tracker.
func NewHandler(tracker *UsageTracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes registers the analytics endpoints on the provided group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/analytics/usage", h.HandleUsage)
	g.GET("/analytics/endpoints", h.HandleEndpoints)
	g.GET("/analytics/users", h.HandleUsers)
	g.GET("/analytics/resources", h.HandleResources)
	g.GET("/analytics/timeseries", h.HandleTimeSeries)
}

// HandleUsage returns the tracker-wide usage summary.
func (h *Handler) HandleUsage(c echo.Context) error {
	return respond.OK(c, http.StatusOK, h.tracker.Summary())
}

// HandleEndpoints returns top endpoints, or one endpoint's stats when ?path=
// is given (route templates contain slashes, so a query parameter beats a
// path parameter here).
func (h *Handler) HandleEndpoints(c echo.Context) error {
	if path := c.QueryParam("path"); path != "" {
		summary := h.tracker.EndpointStats(path)
		if summary == nil {
			return respond.NotFound("no usage recorded for %s", path)
		}
		return respond.OK(c, http.StatusOK, summary)
	}
	return respond.OK(c, http.StatusOK, h.tracker.TopEndpoints(parseLimit(c, 20)))
}

// HandleUsers returns top users, or one user's stats when ?id= is given.
func (h *Handler) HandleUsers(c echo.Context) error {
	if id := c.QueryParam("id"); id != "" {
		summary := h.tracker.UserStats(id)
		if summary == nil {
			return respond.NotFound("no usage recorded for user %s", id)
		}
		return respond.OK(c, http.StatusOK, summary)
	}
	return respond.OK(c, http.StatusOK, h.tracker.TopUsers(parseLimit(c, 20)))
}

// HandleResources returns the per-resource operation breakdown.
func (h *Handler) HandleResources(c echo.Context) error {
	return respond.OK(c, http.StatusOK, h.tracker.ResourceBreakdown())
}

// HandleTimeSeries returns time-bucketed request counts.
func (h *Handler) HandleTimeSeries(c echo.Context) error {
	interval := parseDurationParam(c.QueryParam("interval"), time.Minute)
	lookback := parseDurationParam(c.QueryParam("duration"), time.Hour)
	return respond.OK(c, http.StatusOK, h.tracker.TimeSeries(interval, lookback))
}

func parseLimit(c echo.Context, fallback int) int {
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// parseDurationParam parses durations like "5m", "1h", "7d" (days are not a
// time.ParseDuration unit).
func parseDurationParam(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if strings.HasSuffix(s, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
