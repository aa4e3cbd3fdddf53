package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upstash/qstash-go"
)

const defaultQStashURL = "https://qstash.upstash.io"

type QStashOptions struct {
	// BaseURL points the client at a non-default QStash host, such as the
	// local development server.
	BaseURL    string
	Token      string
	Retries    int
	HTTPClient *http.Client
	Timeout    time.Duration
}

// QStashDispatcher publishes through the Upstash QStash client.
type QStashDispatcher struct {
	client  *qstash.Client
	retries int
}

func NewQStashDispatcher(opts QStashOptions) (*QStashDispatcher, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: qstash token is required", ErrInvalidConfig)
	}
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base != "" && base != defaultQStashURL {
		target, err := url.Parse(base)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("%w: invalid qstash url %q", ErrInvalidConfig, opts.BaseURL)
		}
		next := httpClient.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		rewritten := *httpClient
		rewritten.Transport = &hostRewrite{target: target, next: next}
		httpClient = &rewritten
	}
	return &QStashDispatcher{
		client:  qstash.NewClientWith(token, httpClient),
		retries: retries,
	}, nil
}

func (d *QStashDispatcher) Enqueue(ctx context.Context, targetURL string, payload Payload) (string, error) {
	if strings.TrimSpace(targetURL) == "" {
		return "", errors.New("qstash: target url is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	retries := d.retries
	res, err := d.client.Publish(qstash.PublishOptions{
		Url:         targetURL,
		Body:        string(body),
		ContentType: "application/json",
		Retries:     &retries,
		Delay:       "0s",
	})
	if err != nil {
		return "", fmt.Errorf("qstash: publish: %w", err)
	}
	if res.MessageId == "" {
		return "", errors.New("qstash: response missing messageId")
	}
	return res.MessageId, nil
}

// hostRewrite sends every request to target, keeping the path and query.
type hostRewrite struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewrite) RoundTrip(r *http.Request) (*http.Response, error) {
	out := r.Clone(r.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	return h.next.RoundTrip(out)
}
