package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// IdempotencyHeader carries the mutation's stable id on retried writes.
const IdempotencyHeader = "Idempotency-Key"

// maxResponseBytes bounds a single response read (defensive against a
// misbehaving server filling the local store).
const maxResponseBytes = 32 << 20

// HTTP is a Transport over net/http. Resource keys are interpreted as
// path+query relative to the base URL.
type HTTP struct {
	base   *url.URL
	client *http.Client
}

// NewHTTP builds an HTTP transport. client may be nil to use
// http.DefaultClient; per-attempt timeouts come from the caller's ctx.
func NewHTTP(base *url.URL, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{base: base, client: client}
}

var _ Transport = (*HTTP)(nil)

func (t *HTTP) Do(ctx context.Context, req Request) (Response, error) {
	u, err := t.resolve(req.Key)
	if err != nil {
		return Response{}, &Error{Kind: KindRejected, Err: err}
	}

	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return Response{}, &Error{Kind: KindRejected, Err: err}
	}
	if len(req.Payload) > 0 {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		hreq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}

	resp, err := t.client.Do(hreq)
	if err != nil {
		return Response{}, NetworkError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, NetworkError(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Response{Payload: payload}, nil
	case resp.StatusCode == http.StatusConflict:
		// Server applied the write last-writer-wins but flags the
		// concurrent modification.
		return Response{Payload: payload}, &Error{
			Kind:   KindConflict,
			Status: resp.StatusCode,
			Err:    errors.New("concurrent modification reported"),
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Response{}, &Error{
			Kind:   KindNetwork,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server unavailable: %s", resp.Status),
		}
	default:
		// 4xx other than 409/429: the server refuses this request as such.
		return Response{}, &Error{
			Kind:   KindRejected,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("request rejected: %s", resp.Status),
		}
	}
}

func (t *HTTP) resolve(key string) (string, error) {
	if t.base == nil {
		return "", errors.New("http transport: nil base URL")
	}
	ref, err := url.Parse(strings.TrimSpace(key))
	if err != nil {
		return "", fmt.Errorf("http transport: bad key %q: %w", key, err)
	}
	return t.base.ResolveReference(ref).String(), nil
}
