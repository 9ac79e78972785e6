package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Cache stores fetched audio by URL. cache.DiskCache satisfies it.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
}

// FetchConfig tunes remote fetching.
type FetchConfig struct {
	Timeout           time.Duration
	RequestsPerMinute int
	MaxBytes          int64
}

// DefaultFetchConfig returns conservative fetch settings.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:           30 * time.Second,
		RequestsPerMinute: 120,
		MaxBytes:          32 << 20,
	}
}

// Fetcher downloads remote audio, rate limited and optionally cached.
type Fetcher struct {
	client   *http.Client
	limiter  *rate.Limiter
	cache    Cache
	maxBytes int64
	logger   *log.Logger
}

// NewFetcher creates a fetcher. cache may be nil.
func NewFetcher(cfg FetchConfig, cache Cache, logger *log.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchConfig().Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultFetchConfig().MaxBytes
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		cache:    cache,
		maxBytes: cfg.MaxBytes,
		logger:   logger,
	}
}

// Fetch returns the body at rawURL and its content type.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid audio url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("%s is not a supported protocol", u.Scheme)
	}

	if f.cache != nil {
		if data, ok := f.cache.Get(rawURL); ok {
			f.logger.Debug("Audio cache hit", "url", rawURL, "size", len(data))
			return data, http.DetectContentType(data), nil
		}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "audio/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("unable to get url: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("unable to read response: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", errors.New("audio response exceeds size limit")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	if f.cache != nil {
		if err := f.cache.Put(rawURL, data); err != nil {
			f.logger.Warn("Failed to cache audio", "url", rawURL, "error", err)
		}
	}

	f.logger.Debug("Fetched remote audio", "url", rawURL, "size", len(data), "type", contentType)
	return data, contentType, nil
}
