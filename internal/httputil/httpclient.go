// Package httputil provides the default HttpClient adapter: a bounded
// channel pool over net/http, sized and timed out the way the teacher's
// session-scoped http.Client instances are, but exposing the
// getChannel/runRequest contract the execution engine expects so swapping
// in a pooled, lower-level transport later is a drop-in change.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Channel is a lease on one outbound connection slot. It must be released
// exactly once, regardless of whether the request it was acquired for
// succeeded.
type Channel interface {
	Release()
}

// HttpClient is the engine's transport collaborator (spec §6). Connection
// pooling, TLS, and proxy configuration are its concern; the engine only
// ever calls GetChannel/RunRequest/GetMaxContentLength/Shutdown.
type HttpClient interface {
	GetChannel(ctx context.Context, timeout time.Duration) (Channel, error)
	RunRequest(ctx context.Context, req *http.Request, channel Channel) (*http.Response, error)
	GetMaxContentLength() int
	Shutdown()
}

// poolChannel is a no-op lease: the slot it represents is returned to the
// pool's semaphore on Release.
type poolChannel struct {
	release func()
}

func (c *poolChannel) Release() {
	if c.release != nil {
		c.release()
	}
}

// Client is the default net/http-backed HttpClient. A buffered channel acts
// as the connection-pool semaphore: GetChannel blocks (up to its deadline)
// until a slot is free, mirroring the bounded, backpressured acquisition
// the engine's channel-pool collaborator is specified to provide.
type Client struct {
	http             *http.Client
	slots            chan struct{}
	maxContentLength int
}

// NewClient builds a pooled HttpClient with poolSize concurrent connection
// slots. maxContentLength is reported by GetMaxContentLength, which the
// engine uses as the request-size ceiling for cloud deployments (on-prem
// deployments use Config.MaxContentLength instead). No separate
// binary-protocol size limit is applied at the codec layer.
func NewClient(poolSize, maxContentLength int, transport http.RoundTripper) *Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		http:             &http.Client{Transport: transport},
		slots:            make(chan struct{}, poolSize),
		maxContentLength: maxContentLength,
	}
}

func (c *Client) GetChannel(ctx context.Context, timeout time.Duration) (Channel, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case c.slots <- struct{}{}:
		return &poolChannel{release: func() { <-c.slots }}, nil
	case <-deadline.Done():
		return nil, fmt.Errorf("httputil: timed out acquiring a connection slot: %w", deadline.Err())
	}
}

func (c *Client) RunRequest(ctx context.Context, req *http.Request, channel Channel) (*http.Response, error) {
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetMaxContentLength() int { return c.maxContentLength }

func (c *Client) Shutdown() {
	c.http.CloseIdleConnections()
}

// DrainAndClose fully reads and closes resp.Body, the stdlib-idiomatic way
// to make a *http.Transport reuse the underlying connection.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
