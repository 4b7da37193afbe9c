package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hackgods/hospital-scheduling/internal/apperr"
	"github.com/hackgods/hospital-scheduling/internal/httpx"
	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

// ErrRemoteUnavailable classifies failures where the callee may or may not
// have applied the request: timeouts, network errors and 5xx responses.
var ErrRemoteUnavailable = apperr.New(apperr.KindTransientRemote, "remote_unavailable", "remote service unavailable")

// IsRetryable reports whether err is worth another attempt. Only the
// idempotent operations in this package are retried on it.
func IsRetryable(err error) bool {
	return apperr.KindOf(err) == apperr.KindTransientRemote
}

// baseClient does JSON over HTTP and turns the error envelope back into an
// *apperr.Error so callers can compare against the callee's sentinels.
type baseClient struct {
	baseURL string
	http    *http.Client
}

func newBaseClient(baseURL string, timeout time.Duration) baseClient {
	return baseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c baseClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if trace := reqctx.TraceID(ctx); trace != "" {
		req.Header.Set(httpx.HeaderRequestID, trace)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(ErrRemoteUnavailable, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(method, path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(ErrRemoteUnavailable, fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	var envelope httpx.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		envelope.Error = "remote_error"
		envelope.Details = strings.TrimSpace(string(raw))
	}

	cause := fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, envelope.Details)

	kind := httpx.KindFor(resp.StatusCode)
	if resp.StatusCode >= 500 {
		kind = apperr.KindTransientRemote
	}
	if kind == apperr.KindTransientRemote {
		return apperr.Wrap(ErrRemoteUnavailable, cause)
	}
	message := envelope.Details
	if message == "" {
		message = envelope.Error
	}
	return &apperr.Error{Kind: kind, Code: envelope.Error, Message: message, Err: cause}
}
