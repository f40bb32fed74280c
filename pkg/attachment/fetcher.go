// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package attachment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/email-sender/pkg/metrics"
	"github.com/telekom/email-sender/pkg/version"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 25 << 20
	maxRedirects    = 5
)

// DownloadedContent is the result of a single fetch. ContentType is whatever
// the source reported and must be treated as untrusted.
type DownloadedContent struct {
	ContentType string
	Content     []byte
}

// Fetcher retrieves attachment content by URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (DownloadedContent, error)
}

// Config configures an HTTPFetcher.
type Config struct {
	// Timeout bounds a single fetch, including reading the body.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxBytes is the largest body accepted.
	// Default: 25 MiB
	MaxBytes int64

	// AllowFileURLs enables file: URLs that read from the local filesystem.
	AllowFileURLs bool
}

// HTTPFetcher fetches http(s) URLs with resty and, when enabled, file: URLs
// from disk. It never retries; the caller owns the retry policy.
type HTTPFetcher struct {
	client        *resty.Client
	timeout       time.Duration
	maxBytes      int64
	allowFileURLs bool
	log           *zap.SugaredLogger
}

// NewFetcher creates an HTTPFetcher.
func NewFetcher(cfg Config, log *zap.SugaredLogger) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetResponseBodyLimit(int(maxBytes)).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetHeader("User-Agent", version.UserAgent())

	return &HTTPFetcher{
		client:        client,
		timeout:       timeout,
		maxBytes:      maxBytes,
		allowFileURLs: cfg.AllowFileURLs,
		log:           log.Named("attachment"),
	}
}

// Fetch downloads rawURL in full.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (DownloadedContent, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DownloadedContent{}, &FetchError{URL: rawURL, Err: err}
	}
	scheme := strings.ToLower(u.Scheme)

	start := time.Now()
	var content DownloadedContent
	switch scheme {
	case "http", "https":
		content, err = f.fetchHTTP(ctx, rawURL)
	case "file":
		if !f.allowFileURLs {
			err = &FetchError{URL: rawURL, Err: errors.New("file URLs are disabled")}
			break
		}
		content, err = f.fetchFile(rawURL, u)
	default:
		err = &FetchError{URL: rawURL, Err: fmt.Errorf("unsupported URL scheme %q", u.Scheme)}
	}
	duration := time.Since(start)
	metrics.AttachmentFetchLatency.WithLabelValues(scheme).Observe(duration.Seconds())

	if err != nil {
		metrics.AttachmentFetches.WithLabelValues(scheme, "failure").Inc()
		f.log.Warnw("Attachment fetch failed",
			"host", u.Host,
			"scheme", scheme,
			"duration", duration,
			"error", err)
		return DownloadedContent{}, err
	}

	metrics.AttachmentFetches.WithLabelValues(scheme, "success").Inc()
	f.log.Debugw("Attachment fetched",
		"host", u.Host,
		"scheme", scheme,
		"contentType", content.ContentType,
		"size", len(content.Content),
		"duration", duration)
	return content, nil
}

// fetchHTTP issues exactly one GET. resty reads the body up to maxBytes and
// closes it on every path, so the connection is always released and an
// oversize body is cut off instead of buffered.
func (f *HTTPFetcher) fetchHTTP(ctx context.Context, rawURL string) (DownloadedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return DownloadedContent{}, &FetchError{URL: rawURL, Err: fmt.Errorf("attachment exceeds %d bytes: %w", f.maxBytes, err)}
	}
	if err != nil {
		return DownloadedContent{}, &FetchError{URL: rawURL, Err: err}
	}
	if !resp.IsSuccess() {
		return DownloadedContent{}, &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	body := resp.Body()

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(body).String()
	}
	return DownloadedContent{ContentType: contentType, Content: body}, nil
}

func (f *HTTPFetcher) fetchFile(rawURL string, u *url.URL) (DownloadedContent, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}

	info, err := os.Stat(path)
	if err != nil {
		return DownloadedContent{}, &FetchError{URL: rawURL, Err: err}
	}
	if info.Size() > f.maxBytes {
		return DownloadedContent{}, &FetchError{URL: rawURL, Err: fmt.Errorf("attachment exceeds %d bytes", f.maxBytes)}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return DownloadedContent{}, &FetchError{URL: rawURL, Err: err}
	}
	return DownloadedContent{ContentType: mimetype.Detect(content).String(), Content: content}, nil
}
