package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient is the subset of *http.Client used by outbound notifiers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns an *http.Client with the given request timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// MockHTTPClient records requests and replays queued responses.
type MockHTTPClient struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses []MockResponse
	next      int
}

// MockResponse is a canned reply; a non-nil Error fails the request.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

type recordedRequest struct {
	req  *http.Request
	body []byte
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response for the next unanswered request.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddErrorResponse queues a transport failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{Error: err})
	return m
}

// Do records req, reading its body so tests can inspect it after the
// caller has returned. Once the queue is empty every request gets 200.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, err
		}
		req.Body.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, recordedRequest{req: req, body: body})

	resp := MockResponse{StatusCode: http.StatusOK}
	if m.next < len(m.responses) {
		resp = m.responses[m.next]
		m.next++
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Request returns the nth recorded request and its body.
func (m *MockHTTPClient) Request(n int) (*http.Request, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil, nil
	}
	r := m.requests[n]
	return r.req, r.body
}

func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
