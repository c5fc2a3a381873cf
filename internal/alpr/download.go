package alpr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const fetchRetries = 3

// fetchError represents a non-2xx response from the model host.
type fetchError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string // Retry-After header value for 429s
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// fetcher downloads model files over HTTP. Retries on 429 (honoring
// Retry-After) and 5xx with exponential backoff: 1s, 2s, 4s.
type fetcher struct {
	baseURL string
	client  *http.Client
}

func newFetcher(baseURL string) *fetcher {
	return &fetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// EnsureModels fetches any of the named models missing from dir, as
// <baseURL>/<name>.onnx. Files already on disk are left alone.
func EnsureModels(ctx context.Context, baseURL, dir string, names ...string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("alpr: create models dir %s: %w", dir, err)
	}
	f := newFetcher(baseURL)
	for _, name := range names {
		dest := filepath.Join(dir, name+".onnx")
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := f.fetch(ctx, name+".onnx", dest); err != nil {
			return fmt.Errorf("alpr: fetch model %s: %w", name, err)
		}
	}
	return nil
}

// fetch downloads one file to dest via a temp file in the same directory,
// renamed into place on success so a partial download never masquerades as
// a model.
func (f *fetcher) fetch(ctx context.Context, name, dest string) error {
	url := f.baseURL + "/" + name

	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDelay(attempt, lastErr)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		err := f.fetchOnce(ctx, url, dest)
		if err == nil {
			return nil
		}
		lastErr = err

		fe, ok := err.(*fetchError)
		if !ok {
			return err
		}
		if fe.StatusCode != 429 && fe.StatusCode < 500 {
			return err
		}
	}
	return lastErr
}

func (f *fetcher) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &fetchError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			retryAfter: resp.Header.Get("Retry-After"),
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dest)
}

// backoffDelay returns the wait duration before a retry attempt.
func backoffDelay(attempt int, lastErr error) time.Duration {
	if fe, ok := lastErr.(*fetchError); ok && fe.StatusCode == 429 && fe.retryAfter != "" {
		if secs, err := strconv.Atoi(fe.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}
