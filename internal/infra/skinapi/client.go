// Package skinapi calls the third-party face skin analysis API.
package skinapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bryanwahyu/skinroutine/internal/domain/analysis"
	"github.com/bryanwahyu/skinroutine/internal/logger"
)

const maxImageBytes = 8 << 20

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	maxRetries int
	http       *http.Client
	log        *logger.Logger
}

func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration, maxRetries int, log *logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		maxRetries: maxRetries,
		http:       &http.Client{Timeout: timeout},
		log:        log.With("component", "skinapi"),
	}
}

type response struct {
	RequestID    string         `json:"request_id"`
	ErrorMessage string         `json:"error_message"`
	Result       map[string]any `json:"result"`
}

// Analyze uploads the image and returns the attribute object of the result.
// Transport errors and 5xx answers are retried with exponential backoff;
// every failure is reported as analysis.ErrUpstream.
func (c *Client) Analyze(ctx context.Context, image io.Reader, filename string) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(image, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading image: %v", analysis.ErrUpstream, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: image larger than %d bytes", analysis.ErrUpstream, maxImageBytes)
	}

	var out map[string]any
	attempt := 0
	op := func() error {
		attempt++
		res, err := c.do(ctx, data, filename)
		if err != nil {
			c.log.Warn("skin analysis attempt failed", "attempt", attempt, "error", err)
			return err
		}
		out = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(c.maxRetries, 0))), ctx)

	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrUpstream, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, image []byte, filename string) (map[string]any, error) {
	body, contentType, err := c.form(image, filename)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed response
	decodeErr := json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, parsed.ErrorMessage)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, parsed.ErrorMessage))
	case decodeErr != nil:
		return nil, backoff.Permanent(fmt.Errorf("decoding response: %w", decodeErr))
	case parsed.ErrorMessage != "":
		return nil, backoff.Permanent(errors.New(parsed.ErrorMessage))
	case parsed.Result == nil:
		return nil, backoff.Permanent(errors.New("response has no result"))
	}
	return parsed.Result, nil
}

func (c *Client) form(image []byte, filename string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("api_key", c.apiKey); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("api_secret", c.apiSecret); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
