package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// CloudClient queries a remote cloud-eval endpoint for a best move.
// Lichess-compatible response shape: the first move of the first
// principal variation wins.
type CloudClient struct {
	baseURL string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type cloudEvalResponse struct {
	PVs []struct {
		Moves string `json:"moves"`
	} `json:"pvs"`
}

func NewCloudClient(baseURL string) *CloudClient {
	return &CloudClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout:  5 * time.Second,
		retryMax: 3,
	}
}

// BestMove fetches the cloud evaluation for fen.
func (c *CloudClient) BestMove(ctx context.Context, fen string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "?fen=" + url.QueryEscape(fen))
	req.Header.SetContentType("application/json")

	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == c.retryMax {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("cloud eval error: status=%d", status)
			if attempt == c.retryMax || !shouldRetryStatus(status) {
				return "", lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return "", lastErr
			}
			continue
		}

		var out cloudEvalResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(out.PVs) == 0 {
			return "", errors.New("cloud eval returned no variations")
		}
		fields := strings.Fields(out.PVs[0].Moves)
		if len(fields) == 0 {
			return "", errors.New("cloud eval returned empty variation")
		}
		return fields[0], nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return "", lastErr
}

func (c *CloudClient) computeDeadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		clientDL := time.Now().Add(c.timeout)
		if dl.Before(clientDL) {
			return dl
		}
		return clientDL
	}
	return time.Now().Add(c.timeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
