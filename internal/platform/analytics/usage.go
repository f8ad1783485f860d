// Package analytics tracks API usage in memory: a bounded ring buffer of
// recent request metrics plus per-endpoint, per-user, and per-resource
// counters. Counters reset on restart; this is operational insight, not an
// audit trail.
package analytics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
)

// RequestMetric captures a single API request for analytics.
type RequestMetric struct {
	Timestamp    time.Time     `json:"timestamp"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	Duration     time.Duration `json:"duration"`
	UserID       string        `json:"user_id"`
	Resource     string        `json:"resource"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

type endpointStats struct {
	Path          string
	TotalRequests int64
	TotalErrors   int64
	TotalDuration int64 // nanoseconds
	StatusCounts  map[int]int64
	mu            sync.Mutex
}

type userStats struct {
	UserID        string
	TotalRequests int64
	TotalErrors   int64
	LastRequestAt time.Time
	BytesIn       int64
	BytesOut      int64
	mu            sync.Mutex
}

type resourceStats struct {
	Resource    string
	CreateCount int64
	ReadCount   int64
	UpdateCount int64
	DeleteCount int64
	ListCount   int64
	mu          sync.Mutex
}

// EndpointSummary aggregates one route's statistics.
type EndpointSummary struct {
	Path            string        `json:"path"`
	TotalRequests   int64         `json:"total_requests"`
	ErrorRate       float64       `json:"error_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
}

// UserSummary aggregates one user's API activity.
type UserSummary struct {
	UserID        string    `json:"user_id"`
	TotalRequests int64     `json:"total_requests"`
	ErrorRate     float64   `json:"error_rate"`
	LastSeen      time.Time `json:"last_seen"`
	BytesIn       int64     `json:"bytes_in"`
	BytesOut      int64     `json:"bytes_out"`
}

// ResourceSummary breaks one API resource down by operation.
type ResourceSummary struct {
	Resource    string `json:"resource"`
	CreateCount int64  `json:"create_count"`
	ReadCount   int64  `json:"read_count"`
	UpdateCount int64  `json:"update_count"`
	DeleteCount int64  `json:"delete_count"`
	ListCount   int64  `json:"list_count"`
	Total       int64  `json:"total"`
}

// UsageSummary is the tracker-wide rollup.
type UsageSummary struct {
	TotalRequests   int64              `json:"total_requests"`
	TotalErrors     int64              `json:"total_errors"`
	ErrorRate       float64            `json:"error_rate"`
	AvgLatency      time.Duration      `json:"avg_latency"`
	UniqueUsers     int                `json:"unique_users"`
	UniqueEndpoints int                `json:"unique_endpoints"`
	TopEndpoints    []*EndpointSummary `json:"top_endpoints"`
	TopUsers        []*UserSummary     `json:"top_users"`
}

// TimeSeriesBucket holds aggregated metrics for one time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestCount int64         `json:"request_count"`
	ErrorCount   int64         `json:"error_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// UsageTracker is a thread-safe usage aggregator backed by a ring buffer of
// recent metrics and counter maps.
type UsageTracker struct {
	metrics          []*RequestMetric
	maxMetrics       int
	writePos         int
	full             bool
	endpointCounters map[string]*endpointStats
	userCounters     map[string]*userStats
	resourceCounters map[string]*resourceStats
	mu               sync.RWMutex
	totalRequests    int64
	totalErrors      int64
	totalDuration    int64 // nanoseconds
}

// NewUsageTracker creates a tracker with the given ring buffer capacity.
func NewUsageTracker(maxMetrics int) *UsageTracker {
	if maxMetrics <= 0 {
		maxMetrics = 100000
	}
	return &UsageTracker{
		metrics:          make([]*RequestMetric, 0, maxMetrics),
		maxMetrics:       maxMetrics,
		endpointCounters: make(map[string]*endpointStats),
		userCounters:     make(map[string]*userStats),
		resourceCounters: make(map[string]*resourceStats),
	}
}

// Record appends a metric to the ring buffer and updates all counters.
func (ut *UsageTracker) Record(metric *RequestMetric) {
	isError := metric.StatusCode >= 400

	atomic.AddInt64(&ut.totalRequests, 1)
	if isError {
		atomic.AddInt64(&ut.totalErrors, 1)
	}
	atomic.AddInt64(&ut.totalDuration, int64(metric.Duration))

	ut.mu.Lock()

	// Ring buffer insert.
	if ut.full {
		ut.metrics[ut.writePos] = metric
	} else if len(ut.metrics) < ut.maxMetrics {
		ut.metrics = append(ut.metrics, metric)
	}
	ut.writePos++
	if ut.writePos >= ut.maxMetrics {
		ut.writePos = 0
		ut.full = true
	}

	ep, ok := ut.endpointCounters[metric.Path]
	if !ok {
		ep = &endpointStats{
			Path:         metric.Path,
			StatusCounts: make(map[int]int64),
		}
		ut.endpointCounters[metric.Path] = ep
	}

	var us *userStats
	if metric.UserID != "" {
		us, ok = ut.userCounters[metric.UserID]
		if !ok {
			us = &userStats{UserID: metric.UserID}
			ut.userCounters[metric.UserID] = us
		}
	}

	var rs *resourceStats
	if metric.Resource != "" {
		rs, ok = ut.resourceCounters[metric.Resource]
		if !ok {
			rs = &resourceStats{Resource: metric.Resource}
			ut.resourceCounters[metric.Resource] = rs
		}
	}

	ut.mu.Unlock()

	// Per-counter mutexes keep Record cheap under concurrent traffic.
	ep.mu.Lock()
	ep.TotalRequests++
	if isError {
		ep.TotalErrors++
	}
	ep.TotalDuration += int64(metric.Duration)
	ep.StatusCounts[metric.StatusCode]++
	ep.mu.Unlock()

	if us != nil {
		us.mu.Lock()
		us.TotalRequests++
		if isError {
			us.TotalErrors++
		}
		us.LastRequestAt = metric.Timestamp
		us.BytesIn += metric.RequestSize
		us.BytesOut += metric.ResponseSize
		us.mu.Unlock()
	}

	if rs != nil {
		rs.mu.Lock()
		switch metric.Method {
		case "POST":
			rs.CreateCount++
		case "PUT", "PATCH":
			rs.UpdateCount++
		case "DELETE":
			rs.DeleteCount++
		case "GET":
			if isItemRoute(metric.Path) {
				rs.ReadCount++
			} else {
				rs.ListCount++
			}
		}
		rs.mu.Unlock()
	}
}

// isItemRoute reports whether a route template addresses a single item
// (/api/v1/images/:id) rather than a collection (/api/v1/images).
func isItemRoute(path string) bool {
	return strings.Contains(path, "/:")
}

// extractResource pulls the resource segment out of an API route template:
// /api/v1/images/:id -> images. Non-API routes yield "".
func extractResource(path string) string {
	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if rest == "" {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// EndpointStats returns aggregated stats for one route, or nil.
func (ut *UsageTracker) EndpointStats(path string) *EndpointSummary {
	ut.mu.RLock()
	ep, ok := ut.endpointCounters[path]
	ut.mu.RUnlock()
	if !ok {
		return nil
	}
	return ut.buildEndpointSummary(ep)
}

// UserStats returns aggregated stats for one user, or nil.
func (ut *UsageTracker) UserStats(userID string) *UserSummary {
	ut.mu.RLock()
	us, ok := ut.userCounters[userID]
	ut.mu.RUnlock()
	if !ok {
		return nil
	}
	return buildUserSummary(us)
}

// ResourceStats returns the operation breakdown for one resource, or nil.
func (ut *UsageTracker) ResourceStats(resource string) *ResourceSummary {
	ut.mu.RLock()
	rs, ok := ut.resourceCounters[resource]
	ut.mu.RUnlock()
	if !ok {
		return nil
	}
	return buildResourceSummary(rs)
}

// ResourceBreakdown returns summaries for every tracked resource, sorted by
// total descending.
func (ut *UsageTracker) ResourceBreakdown() []*ResourceSummary {
	ut.mu.RLock()
	summaries := make([]*ResourceSummary, 0, len(ut.resourceCounters))
	for _, rs := range ut.resourceCounters {
		summaries = append(summaries, buildResourceSummary(rs))
	}
	ut.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Total > summaries[j].Total
	})
	return summaries
}

// Summary returns the tracker-wide rollup with top-5 endpoints and users.
func (ut *UsageTracker) Summary() *UsageSummary {
	total := atomic.LoadInt64(&ut.totalRequests)
	errors := atomic.LoadInt64(&ut.totalErrors)
	dur := atomic.LoadInt64(&ut.totalDuration)

	var errorRate float64
	if total > 0 {
		errorRate = float64(errors) / float64(total)
	}
	var avgLatency time.Duration
	if total > 0 {
		avgLatency = time.Duration(dur / total)
	}

	ut.mu.RLock()
	uniqueUsers := len(ut.userCounters)
	uniqueEndpoints := len(ut.endpointCounters)
	ut.mu.RUnlock()

	return &UsageSummary{
		TotalRequests:   total,
		TotalErrors:     errors,
		ErrorRate:       errorRate,
		AvgLatency:      avgLatency,
		UniqueUsers:     uniqueUsers,
		UniqueEndpoints: uniqueEndpoints,
		TopEndpoints:    ut.TopEndpoints(5),
		TopUsers:        ut.TopUsers(5),
	}
}

// TopEndpoints returns up to limit endpoints by request count descending.
func (ut *UsageTracker) TopEndpoints(limit int) []*EndpointSummary {
	ut.mu.RLock()
	summaries := make([]*EndpointSummary, 0, len(ut.endpointCounters))
	for _, ep := range ut.endpointCounters {
		summaries = append(summaries, ut.buildEndpointSummary(ep))
	}
	ut.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TotalRequests > summaries[j].TotalRequests
	})

	if limit > len(summaries) {
		limit = len(summaries)
	}
	return summaries[:limit]
}

// TopUsers returns up to limit users by request count descending.
func (ut *UsageTracker) TopUsers(limit int) []*UserSummary {
	ut.mu.RLock()
	summaries := make([]*UserSummary, 0, len(ut.userCounters))
	for _, us := range ut.userCounters {
		summaries = append(summaries, buildUserSummary(us))
	}
	ut.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TotalRequests > summaries[j].TotalRequests
	})

	if limit > len(summaries) {
		limit = len(summaries)
	}
	return summaries[:limit]
}

// TimeSeries buckets recent requests by interval over the lookback window.
func (ut *UsageTracker) TimeSeries(interval, lookback time.Duration) []*TimeSeriesBucket {
	now := time.Now()
	start := now.Add(-lookback).Truncate(interval)
	numBuckets := int(lookback/interval) + 1

	buckets := make([]*TimeSeriesBucket, numBuckets)
	for i := range buckets {
		buckets[i] = &TimeSeriesBucket{
			Timestamp: start.Add(time.Duration(i) * interval),
		}
	}

	ut.mu.RLock()
	metricsCopy := make([]*RequestMetric, len(ut.metrics))
	copy(metricsCopy, ut.metrics)
	ut.mu.RUnlock()

	for _, m := range metricsCopy {
		if m == nil {
			continue
		}
		if m.Timestamp.Before(start) || m.Timestamp.After(now) {
			continue
		}
		idx := int(m.Timestamp.Sub(start) / interval)
		if idx < 0 || idx >= numBuckets {
			continue
		}
		buckets[idx].RequestCount++
		if m.StatusCode >= 400 {
			buckets[idx].ErrorCount++
		}
		buckets[idx].AvgLatency += m.Duration // accumulated, averaged below
	}

	for _, b := range buckets {
		if b.RequestCount > 0 {
			b.AvgLatency = time.Duration(int64(b.AvgLatency) / b.RequestCount)
		}
	}

	return buckets
}

// ErrorRate returns the overall error rate between 0 and 1.
func (ut *UsageTracker) ErrorRate() float64 {
	total := atomic.LoadInt64(&ut.totalRequests)
	errors := atomic.LoadInt64(&ut.totalErrors)
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total)
}

// AverageLatency returns the mean request duration.
func (ut *UsageTracker) AverageLatency() time.Duration {
	total := atomic.LoadInt64(&ut.totalRequests)
	dur := atomic.LoadInt64(&ut.totalDuration)
	if total == 0 {
		return 0
	}
	return time.Duration(dur / total)
}

func (ut *UsageTracker) buildEndpointSummary(ep *endpointStats) *EndpointSummary {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	var errorRate float64
	if ep.TotalRequests > 0 {
		errorRate = float64(ep.TotalErrors) / float64(ep.TotalRequests)
	}
	var avgLatency time.Duration
	if ep.TotalRequests > 0 {
		avgLatency = time.Duration(ep.TotalDuration / ep.TotalRequests)
	}

	statusBreakdown := make(map[int]int64, len(ep.StatusCounts))
	for code, count := range ep.StatusCounts {
		statusBreakdown[code] = count
	}

	return &EndpointSummary{
		Path:            ep.Path,
		TotalRequests:   ep.TotalRequests,
		ErrorRate:       errorRate,
		AvgLatency:      avgLatency,
		P95Latency:      ut.computeP95ForPath(ep.Path),
		StatusBreakdown: statusBreakdown,
	}
}

func buildUserSummary(us *userStats) *UserSummary {
	us.mu.Lock()
	defer us.mu.Unlock()

	var errorRate float64
	if us.TotalRequests > 0 {
		errorRate = float64(us.TotalErrors) / float64(us.TotalRequests)
	}

	return &UserSummary{
		UserID:        us.UserID,
		TotalRequests: us.TotalRequests,
		ErrorRate:     errorRate,
		LastSeen:      us.LastRequestAt,
		BytesIn:       us.BytesIn,
		BytesOut:      us.BytesOut,
	}
}

func buildResourceSummary(rs *resourceStats) *ResourceSummary {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return &ResourceSummary{
		Resource:    rs.Resource,
		CreateCount: rs.CreateCount,
		ReadCount:   rs.ReadCount,
		UpdateCount: rs.UpdateCount,
		DeleteCount: rs.DeleteCount,
		ListCount:   rs.ListCount,
		Total:       rs.CreateCount + rs.ReadCount + rs.UpdateCount + rs.DeleteCount + rs.ListCount,
	}
}

// P95 comes from the ring buffer, so it reflects recent traffic only.
func (ut *UsageTracker) computeP95ForPath(path string) time.Duration {
	ut.mu.RLock()
	var durations []time.Duration
	for _, m := range ut.metrics {
		if m != nil && m.Path == path {
			durations = append(durations, m.Duration)
		}
	}
	ut.mu.RUnlock()

	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := int(float64(len(durations)) * 0.95)
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

// Middleware records every request into the tracker. It keys endpoints by the
// echo route template (/api/v1/images/:id), not the raw URL, so IDs do not
// explode the counter map.
func Middleware(tracker *UsageTracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			path := c.Path()
			if path == "" {
				path = req.URL.Path
			}

			// Errors have not hit the error handler yet, so the response
			// status still reads 200; resolve it from the error instead.
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				if appErr, ok := respond.AsAppError(err); ok {
					status = appErr.Status
				} else if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			var requestSize int64
			if req.ContentLength > 0 {
				requestSize = req.ContentLength
			}

			tracker.Record(&RequestMetric{
				Timestamp:    start,
				Method:       req.Method,
				Path:         path,
				StatusCode:   status,
				Duration:     time.Since(start),
				UserID:       auth.UserIDFromContext(req.Context()),
				Resource:     extractResource(path),
				RequestSize:  requestSize,
				ResponseSize: c.Response().Size,
			})

			return err
		}
	}
}
