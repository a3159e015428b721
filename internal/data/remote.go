package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/quantfold/backtester/internal/models"
)

// Remote fetch defaults.
const (
	defaultMaxRetries  = 3
	baseBackoff        = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
	maxErrorBody       = 512
	remoteResponseSize = 32 << 20 // 32MB cap on bar payloads
)

// RemoteOptions configures a RemoteSource.
type RemoteOptions struct {
	URL        string
	Symbols    []string
	Timeout    time.Duration
	MaxRetries int
	Logger     *logrus.Logger
	// Fallback is consulted when the remote is unavailable after retries.
	Fallback Source
}

// RemoteSource fetches bars per symbol from an HTTP endpoint returning a
// JSON array of bars. Calls go through a circuit breaker so a flapping
// endpoint fails fast instead of hammering retries.
type RemoteSource struct {
	opts    RemoteOptions
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger
}

// NewRemoteSource creates the source with sensible breaker defaults.
func NewRemoteSource(opts RemoteOptions) *RemoteSource {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	settings := gobreaker.Settings{
		Name:        "BarFetcher",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}
	return &RemoteSource{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// Name implements Source.
func (s *RemoteSource) Name() string { return "remote" }

// Load fetches every symbol's series and validates the merged feed. When
// the remote stays down and a fallback source is configured, the fallback's
// series is returned instead.
func (s *RemoteSource) Load(ctx context.Context) ([]models.Bar, error) {
	bars, err := s.loadRemote(ctx)
	if err != nil {
		if s.opts.Fallback == nil {
			return nil, err
		}
		s.log.WithError(err).WithField("fallback", s.opts.Fallback.Name()).
			Warn("remote feed unavailable, using fallback data")
		return s.opts.Fallback.Load(ctx)
	}
	return bars, nil
}

func (s *RemoteSource) loadRemote(ctx context.Context) ([]models.Bar, error) {
	var bars []models.Bar
	for _, sym := range s.opts.Symbols {
		fetched, err := s.fetchSymbol(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", sym, err)
		}
		bars = append(bars, fetched...)
	}
	if err := models.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("remote feed: %w", err)
	}
	return bars, nil
}

// fetchSymbol retries transient failures with capped exponential backoff and
// jitter; the breaker sees every attempt.
func (s *RemoteSource) fetchSymbol(ctx context.Context, symbol string) ([]models.Bar, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << uint(attempt-1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			// Add up to 25% jitter so retries from parallel sweeps spread out.
			sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/4+1)) // #nosec G404 -- jitter, not crypto
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		result, err := s.breaker.Execute(func() (interface{}, error) {
			return s.doFetch(ctx, symbol)
		})
		if err == nil {
			return result.([]models.Bar), nil
		}
		lastErr = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"symbol": symbol, "attempt": attempt + 1}).
			WithError(err).Warn("bar fetch failed")
	}
	return nil, fmt.Errorf("after %d attempts: %w", s.opts.MaxRetries, lastErr)
}

func (s *RemoteSource) doFetch(ctx context.Context, symbol string) ([]models.Bar, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s -> %d: %s", u.Path, resp.StatusCode, string(body))
	}

	var bars []models.Bar
	dec := json.NewDecoder(io.LimitReader(resp.Body, remoteResponseSize))
	if err := dec.Decode(&bars); err != nil {
		return nil, fmt.Errorf("decoding bars: %w", err)
	}
	return bars, nil
}
