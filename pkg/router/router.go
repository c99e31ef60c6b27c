// Package router turns a ServiceRequest into an HTTP call against a host
// chosen by a balancer, with a bounded retry budget and per-attempt
// timeout. It never modifies the request's Service/Path/Method; it only
// stamps Sent once an attempt succeeds, leaving it zero when every
// attempt in the retry budget fails.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgerun/galileo-go/pkg/gtypes"
	"github.com/edgerun/galileo-go/pkg/metrics"
	"github.com/edgerun/galileo-go/pkg/routing"
)

// DefaultTimeout and DefaultRetries match the router-level HTTP dispatch
// budget: 1 second per attempt, 5 attempts before giving up.
const (
	DefaultTimeout = 1 * time.Second
	DefaultRetries = 5
)

// ErrTransport wraps the last HTTP error after the retry budget is spent.
var ErrTransport = errors.New("router: transport error")

// Response is the outcome of a successful dispatch.
type Response struct {
	Host       string
	StatusCode int
	Body       string
}

// Router dispatches a ServiceRequest to a host and returns the response.
type Router interface {
	Request(ctx context.Context, req *gtypes.ServiceRequest) (Response, error)
}

type baseRouter struct {
	client  *http.Client
	retries int
}

func newBaseRouter(timeout time.Duration, retries int) baseRouter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries <= 0 {
		retries = DefaultRetries
	}
	return baseRouter{
		client:  &http.Client{Timeout: timeout},
		retries: retries,
	}
}

// dispatch issues up to b.retries attempts against url. req.Sent is only
// stamped once an attempt actually succeeds: a request whose every
// attempt fails carries a zero Sent, matching the original
// galileo/worker/router.py (time_sent is only assigned after a
// successful response, never on the exception path).
func (b baseRouter) dispatch(ctx context.Context, url string, req *gtypes.ServiceRequest) (Response, string, error) {
	var body io.Reader
	if len(req.Kwargs) > 0 {
		encoded, err := json.Marshal(req.Kwargs)
		if err != nil {
			return Response{}, "", fmt.Errorf("router: encode kwargs: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	var lastErr error
	for attempt := 0; attempt < b.retries; attempt++ {
		timer := metrics.NewTimer()
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
		if err != nil {
			return Response{}, "", fmt.Errorf("%w: %v", ErrTransport, err)
		}
		sentAt := time.Now()
		resp, err := b.client.Do(httpReq)
		timer.ObserveDurationVec(metrics.RouterDispatchDuration, req.Service)
		if err != nil {
			lastErr = err
			continue
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = err
			continue
		}
		req.Sent = sentAt
		return Response{StatusCode: resp.StatusCode, Body: string(data)}, url, nil
	}
	return Response{}, "", fmt.Errorf("%w: gave up after %d attempts: %v", ErrTransport, b.retries, lastErr)
}

// StaticRouter issues every request against a fixed URL prefix.
type StaticRouter struct {
	baseRouter
	Prefix string
}

// NewStaticRouter builds a router that ignores the balancer entirely and
// dispatches every request to prefix+path.
func NewStaticRouter(prefix string, timeout time.Duration, retries int) *StaticRouter {
	return &StaticRouter{baseRouter: newBaseRouter(timeout, retries), Prefix: prefix}
}

func (r *StaticRouter) Request(ctx context.Context, req *gtypes.ServiceRequest) (Response, error) {
	url := r.Prefix + req.Path
	resp, host, err := r.dispatch(ctx, url, req)
	resp.Host = host
	return resp, err
}

// HostRouter asks the balancer for a host and dispatches to
// http://{host}{path}.
type HostRouter struct {
	baseRouter
	Balancer routing.Balancer
}

// NewHostRouter builds a router over the given balancer.
func NewHostRouter(balancer routing.Balancer, timeout time.Duration, retries int) *HostRouter {
	return &HostRouter{baseRouter: newBaseRouter(timeout, retries), Balancer: balancer}
}

func (r *HostRouter) Request(ctx context.Context, req *gtypes.ServiceRequest) (Response, error) {
	host, err := r.Balancer.NextHost(ctx, req.Service)
	if err != nil {
		return Response{}, err
	}
	url := fmt.Sprintf("http://%s%s", host, req.Path)
	resp, _, err := r.dispatch(ctx, url, req)
	resp.Host = host
	return resp, err
}

// ServiceRouter asks the balancer for a host and dispatches to
// http://{host}/{service}{path}, for deployments that route by service
// name at the gateway.
type ServiceRouter struct {
	baseRouter
	Balancer routing.Balancer
}

// NewServiceRouter builds a router over the given balancer.
func NewServiceRouter(balancer routing.Balancer, timeout time.Duration, retries int) *ServiceRouter {
	return &ServiceRouter{baseRouter: newBaseRouter(timeout, retries), Balancer: balancer}
}

func (r *ServiceRouter) Request(ctx context.Context, req *gtypes.ServiceRequest) (Response, error) {
	host, err := r.Balancer.NextHost(ctx, req.Service)
	if err != nil {
		return Response{}, err
	}
	url := fmt.Sprintf("http://%s/%s%s", host, req.Service, req.Path)
	resp, _, err := r.dispatch(ctx, url, req)
	resp.Host = host
	return resp, err
}
