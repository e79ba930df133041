// Package fetcher talks to the day-range metering API. The ledger depends
// only on the Fetcher interface; HTTPFetcher is the production
// implementation.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"wattson/internal/metrics"
	"wattson/logger"
	"wattson/models"
)

// StatusError is a fetch that reached the API but came back non-200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Result carries what the diagnostics recorder needs even when the fetch
// failed: the URL that was hit and the status code observed.
type Result struct {
	Body       []byte
	URL        string
	StatusCode int
}

// Fetcher retrieves the raw provider body for one calendar day.
type Fetcher interface {
	FetchDay(ctx context.Context, day models.Date) (Result, error)
}

// HTTPFetcher implements Fetcher against
// GET <base>/<usagePoint>/<measure>/<startDate>/<endDate>.
type HTTPFetcher struct {
	baseURL    string
	usagePoint string
	measure    string
	client     *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

func NewHTTPFetcher(baseURL, usagePoint, measure string, timeout time.Duration, requestsPerMinute int) *HTTPFetcher {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	return &HTTPFetcher{
		baseURL:    baseURL,
		usagePoint: usagePoint,
		measure:    measure,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		log:        logger.GetLogger(),
	}
}

// FetchDay requests the half-open day range [day, day+1). A non-200 reply
// yields a StatusError; transport failures come back wrapped. No retries
// here, the caller decides.
func (f *HTTPFetcher) FetchDay(ctx context.Context, day models.Date) (Result, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/%s", f.baseURL, f.usagePoint, f.measure, day, day.AddDays(1))
	res := Result{URL: url}

	if err := f.limiter.Wait(ctx); err != nil {
		return res, fmt.Errorf("rate limiter: %w", err)
	}

	log := f.log.WithComponent("fetcher").WithFields(logger.Fields{"day": day.String()})
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return res, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("network_error").Inc()
		return res, fmt.Errorf("metering api: %w", err)
	}
	defer resp.Body.Close()

	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	res.StatusCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		metrics.FetchAttempts.WithLabelValues("http_error").Inc()
		log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("metering api returned non-200")
		return res, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("read_error").Inc()
		return res, fmt.Errorf("read body: %w", err)
	}

	metrics.FetchAttempts.WithLabelValues("ok").Inc()
	res.Body = body
	log.WithFields(logger.Fields{"bytes": len(body), "duration": time.Since(start).String()}).Debug("fetched day")
	return res, nil
}
