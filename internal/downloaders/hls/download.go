package hls

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/tokysnatcher/internal/utils"
	"golang.org/x/time/rate"
)

// FetchError means a segment could not be fetched. Status is 0 for transport
// failures.
type FetchError struct {
	URI    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("error fetching segment %s: status %d", e.URI, e.Status)
	}
	return fmt.Sprintf("error fetching segment %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type FetcherConfig struct {
	PathHeader        string
	Retries           int
	RetryBackoff      time.Duration
	RequestsPerSecond float64
	// Fallback is tried once, with its own retries, after the primary URI
	// fails.
	Fallback Fallback
}

// Fetcher is shared by every chapter of a run, so the rate limit is global.
type Fetcher struct {
	client  utils.HTTPDoer
	cfg     FetcherConfig
	limiter *rate.Limiter
}

func NewFetcher(client utils.HTTPDoer, cfg FetcherConfig) *Fetcher {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	f := &Fetcher{client: client, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// Fetch returns the full payload of one segment. When ctx is cancelled before
// or during the transfer it returns utils.ErrCancelled and no bytes.
func (f *Fetcher) Fetch(ctx context.Context, segmentURI string, headers map[string]string) ([]byte, error) {
	data, err := f.fetch(ctx, segmentURI, headers)
	if err == nil || errors.Is(err, utils.ErrCancelled) || f.cfg.Fallback == nil {
		return data, err
	}
	alt, ok := f.cfg.Fallback(segmentURI)
	if !ok {
		return nil, err
	}
	log.Debug().Str("op", "hls/download").Err(err).Msgf("Switching to fallback source %s", alt)
	return f.fetch(ctx, alt, headers)
}

func (f *Fetcher) fetch(ctx context.Context, segmentURI string, headers map[string]string) ([]byte, error) {
	reqHeaders := requestHeaders(headers, f.cfg.PathHeader, segmentURI)
	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			log.Debug().Str("op", "hls/download").Msgf("Retry %d/%d for %s", attempt, f.cfg.Retries, segmentURI)
			select {
			case <-ctx.Done():
				return nil, utils.ErrCancelled
			case <-time.After(time.Duration(attempt) * f.cfg.RetryBackoff):
			}
		}
		if ctx.Err() != nil {
			return nil, utils.ErrCancelled
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, utils.ErrCancelled
			}
		}
		data, err := utils.GetBytes(ctx, f.client, segmentURI, reqHeaders)
		if err == nil {
			if ctx.Err() != nil {
				return nil, utils.ErrCancelled
			}
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, utils.ErrCancelled
		}
		lastErr = toFetchError(segmentURI, err)
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func toFetchError(uri string, err error) *FetchError {
	var statusErr *utils.StatusError
	if errors.As(err, &statusErr) {
		return &FetchError{URI: uri, Status: statusErr.Code, Err: err}
	}
	return &FetchError{URI: uri, Err: err}
}

func retryable(err error) bool {
	var statusErr *utils.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	return true
}
