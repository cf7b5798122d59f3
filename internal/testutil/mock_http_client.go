package testutil

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/flexprice/billsync/internal/httpclient"
)

// MockHTTPClient implements httpclient.Client with canned responses keyed by
// "METHOD /path" (query string ignored). It records every request.
type MockHTTPClient struct {
	mu       sync.RWMutex
	routes   map[string][]MockResponse
	requests []*httpclient.Request
}

// MockResponse represents a mock HTTP response
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// NewMockHTTPClient creates a new mock HTTP client
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		routes: make(map[string][]MockResponse),
	}
}

// RegisterResponse queues a response for a route. Queued responses are returned
// in order; the last one repeats.
func (m *MockHTTPClient) RegisterResponse(method, path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + path
	m.routes[key] = append(m.routes[key], resp)
}

// RegisterJSON is a helper to register a 200 JSON response
func (m *MockHTTPClient) RegisterJSON(method, path string, body string) {
	m.RegisterResponse(method, path, MockResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// Send implements the httpclient.Client interface. Statuses >= 400 are returned
// as *httpclient.Error like the real client does.
func (m *MockHTTPClient) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	path := req.URL
	if u, err := url.Parse(req.URL); err == nil {
		path = u.Path
	}
	key := req.Method + " " + path

	queue, found := m.routes[key]
	if !found || len(queue) == 0 {
		return nil, httpclient.NewError(http.StatusNotFound, []byte("Not Found"))
	}

	resp := queue[0]
	if len(queue) > 1 {
		m.routes[key] = queue[1:]
	}

	if resp.StatusCode >= 400 {
		return nil, httpclient.NewError(resp.StatusCode, resp.Body)
	}
	return &httpclient.Response{
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Headers:    resp.Headers,
	}, nil
}

// Requests returns the recorded requests for a route
func (m *MockHTTPClient) Requests(method, path string) []*httpclient.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*httpclient.Request
	for _, r := range m.requests {
		p := r.URL
		if u, err := url.Parse(r.URL); err == nil {
			p = u.Path
		}
		if r.Method == method && p == path {
			out = append(out, r)
		}
	}
	return out
}

// Clear removes all registered responses and recorded requests
func (m *MockHTTPClient) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = make(map[string][]MockResponse)
	m.requests = nil
}
