// Package client is sentryctl's HTTP client for sentrytapd's control API.
// It is grounded on pkg/api/client's DefaultClient (httpc-based requests,
// otelhttp-instrumented transport, backoff retry), generalized to also
// dial a unix socket address the way the control API itself listens on
// one (pkg/netaddr.ExtractUnixSocket).
package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fako1024/httpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sentrytap/sentrytap/pkg/capture/capturetypes"
	"github.com/sentrytap/sentrytap/pkg/config"
	"github.com/sentrytap/sentrytap/pkg/controlapi"
	"github.com/sentrytap/sentrytap/pkg/netaddr"
)

const defaultRequestTimeout = 5 * time.Second

// Client talks to a running sentrytapd instance's control API.
type Client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration

	retryIntervals httpc.Intervals
}

// New constructs a Client for addr, which may be "host:port" or
// "unix:/path/to/socket".
func New(addr string) *Client {
	c := &Client{
		timeout: defaultRequestTimeout,
		retryIntervals: httpc.Intervals{
			1 * time.Second, 2 * time.Second,
		},
	}

	if socket := netaddr.ExtractUnixSocket(addr); socket != "" {
		c.baseURL = "http://unix"
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socket)
				},
			}),
		}
		return c
	}

	c.baseURL = "http://" + addr
	c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return c
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *Client) request(ctx context.Context, method, path string, parseInto any) *httpc.Request {
	req := httpc.NewWithClient(method, c.baseURL+path, c.http).
		Timeout(c.timeout).
		RetryBackOff(c.retryIntervals)
	if parseInto != nil {
		req = req.ParseJSON(parseInto)
	}
	return req
}

type statusResponse struct {
	StartedAt time.Time                   `json:"started_at"`
	Statuses  capturetypes.InterfaceStats `json:"statuses"`
}

// Status fetches per-interface capture statistics, optionally narrowed to
// ifaces.
func (c *Client) Status(ctx context.Context, ifaces ...string) (capturetypes.InterfaceStats, time.Time, error) {
	res := new(statusResponse)
	req := c.request(ctx, "GET", controlapi.StatusRoute, res)
	for _, iface := range ifaces {
		req = req.QueryParams(httpc.Params{"iface": iface})
	}
	if err := req.RunWithContext(ctx); err != nil {
		return nil, time.Time{}, fmt.Errorf("status request failed: %w", err)
	}
	return res.Statuses, res.StartedAt, nil
}

type flowsResponse struct {
	Flows []controlapi.FlowSnapshot `json:"flows"`
}

// Flows lists currently tracked flows, optionally narrowed by a
// flowfilter expression.
func (c *Client) Flows(ctx context.Context, filter string) ([]controlapi.FlowSnapshot, error) {
	res := new(flowsResponse)
	req := c.request(ctx, "GET", controlapi.FlowsRoute, res)
	if filter != "" {
		req = req.QueryParams(httpc.Params{"filter": filter})
	}
	if err := req.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("flows request failed: %w", err)
	}
	return res.Flows, nil
}

type configResponse struct {
	Ifaces config.Ifaces `json:"ifaces"`
}

// Config fetches the interface configuration currently applied.
func (c *Client) Config(ctx context.Context) (config.Ifaces, error) {
	res := new(configResponse)
	req := c.request(ctx, "GET", controlapi.ConfigRoute, res)
	if err := req.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("config request failed: %w", err)
	}
	return res.Ifaces, nil
}

// Signal triggers one of the supervisor's internal signals by name
// ("reload", "update", "update_api", "netlink_io", "terminate").
func (c *Client) Signal(ctx context.Context, name string) error {
	req := c.request(ctx, "POST", "/signal/"+name, nil)
	if err := req.RunWithContext(ctx); err != nil {
		return fmt.Errorf("signal request failed: %w", err)
	}
	return nil
}
