// Package webhook consumes queue elements by posting their payload to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mickamy/txqueue"
)

// Headers set on every request.
const (
	HeaderElementID     = "X-Txqueue-Element-Id"
	HeaderDispatchCount = "X-Txqueue-Dispatch-Count"
	HeaderDeadLetter    = "X-Txqueue-Dead-Letter"
)

// Option configures a Consumer.
type Option func(*options)

type options struct {
	client      *http.Client
	fallbackURL string
}

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithFallbackURL posts dead-lettered elements to url. Without it dead-lettering is silent.
func WithFallbackURL(url string) Option {
	return func(o *options) {
		o.fallbackURL = url
	}
}

// Consumer posts payloads to an HTTP endpoint.
type Consumer[P any] struct {
	target string
	opts   options
}

// NewConsumer creates a consumer posting to target.
func NewConsumer[P any](target string, opts ...Option) *Consumer[P] {
	o := options{client: &http.Client{Timeout: 5 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Consumer[P]{target: target, opts: o}
}

// Consume implements txqueue.PayloadConsumer. Any status >= 300 is a failure.
func (c *Consumer[P]) Consume(ctx context.Context, element txqueue.Element[P]) error {
	return c.post(ctx, c.target, element, false)
}

// ConsumeFallback implements txqueue.FallbackConsumer.
func (c *Consumer[P]) ConsumeFallback(ctx context.Context, element txqueue.Element[P]) error {
	if c.opts.fallbackURL == "" {
		return nil
	}
	return c.post(ctx, c.opts.fallbackURL, element, true)
}

func (c *Consumer[P]) post(ctx context.Context, target string, element txqueue.Element[P], deadLetter bool) error {
	body, err := json.Marshal(element.Payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderElementID, strconv.FormatInt(element.ID, 10))
	req.Header.Set(HeaderDispatchCount, strconv.Itoa(element.DispatchCount))
	if deadLetter {
		req.Header.Set(HeaderDeadLetter, "true")
	}

	resp, err := c.opts.client.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) { _ = Body.Close() }(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with %s", resp.Status)
	}
	return nil
}
