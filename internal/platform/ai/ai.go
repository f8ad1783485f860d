// Package ai analyzes uploaded medical images through third-party inference
// APIs (OpenAI vision, Hugging Face image classification). Calls are rate
// limited and retried with exponential backoff; when every attempt fails the
// service degrades to a placeholder result instead of surfacing the failure,
// so an analysis request never errors out the upload flow.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Request carries one image to analyze. Checksum is the hex SHA-256 of the
// content and doubles as the cache key.
type Request struct {
	ImageID     string
	ContentType string
	Checksum    string
	Data        []byte
	Prompt      string
}

// Finding is a single labeled observation with a confidence score.
type Finding struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of one analysis. Source identifies the provider
// ("openai", "huggingface") or "placeholder" when analysis was unavailable.
type Result struct {
	Source     string    `json:"source"`
	Model      string    `json:"model,omitempty"`
	Summary    string    `json:"summary"`
	Findings   []Finding `json:"findings,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Analyzer is a single inference backend.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// apiError is a non-2xx provider response.
type apiError struct {
	Provider string
	Status   int
	Body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Body)
}

// retryable reports whether another attempt could succeed: rate limiting,
// server errors, and transport failures qualify; client errors and context
// cancellation do not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == http.StatusTooManyRequests || ae.Status >= 500
	}
	return true
}

const (
	defaultMaxAttempts = 4
	defaultRetryBase   = 500 * time.Millisecond
	defaultCacheSize   = 256
	defaultRateLimit   = 2 // requests per second against the provider
)

// Option configures a Service.
type Option func(*Service)

// WithMaxAttempts sets how many times a failed call is attempted in total.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBase sets the first backoff delay; each subsequent delay doubles.
func WithRetryBase(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retryBase = d
		}
	}
}

// WithLimiter overrides the provider rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithCacheSize sets the result cache capacity.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// Service wraps an Analyzer with rate limiting, retry, caching, and
// placeholder degradation.
type Service struct {
	analyzer    Analyzer
	limiter     *rate.Limiter
	cache       *lru.Cache[string, *Result]
	cacheSize   int
	logger      zerolog.Logger
	maxAttempts int
	retryBase   time.Duration
}

// NewService builds a Service around the given analyzer.
func NewService(analyzer Analyzer, logger zerolog.Logger, opts ...Option) (*Service, error) {
	s := &Service{
		analyzer:    analyzer,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
		cacheSize:   defaultCacheSize,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
	for _, o := range opts {
		o(s)
	}

	cache, err := lru.New[string, *Result](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating analysis cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *Service) cacheKey(req Request) string {
	return req.Checksum + "|" + s.analyzer.Name()
}

// Analyze runs the image through the provider. Identical content (by
// checksum) is served from cache. On persistent failure a placeholder result
// is returned; Analyze never returns an error to its caller.
func (s *Service) Analyze(ctx context.Context, req Request) *Result {
	key := s.cacheKey(req)
	if cached, ok := s.cache.Get(key); ok {
		s.logger.Debug().Str("image_id", req.ImageID).Msg("analysis cache hit")
		return cached
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.retryBase * (1 << (attempt - 1))
			if err := sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		result, err := s.analyzer.Analyze(ctx, req)
		if err == nil {
			result.AnalyzedAt = time.Now().UTC()
			s.cache.Add(key, result)
			return result
		}

		lastErr = err
		if !retryable(err) {
			break
		}
		s.logger.Warn().
			Err(err).
			Str("image_id", req.ImageID).
			Int("attempt", attempt+1).
			Msg("analysis attempt failed")
	}

	s.logger.Error().
		Err(lastErr).
		Str("image_id", req.ImageID).
		Str("provider", s.analyzer.Name()).
		Msg("analysis unavailable, serving placeholder")
	return Placeholder()
}

// Placeholder is the degraded result served when analysis is unavailable.
// It is never cached so a later request gets a fresh chance at the provider.
func Placeholder() *Result {
	return &Result{
		Source:     "placeholder",
		Summary:    "Automated analysis is temporarily unavailable. Please try again later.",
		Findings:   []Finding{},
		AnalyzedAt: time.Now().UTC(),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
