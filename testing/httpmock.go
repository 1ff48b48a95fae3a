// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep_testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// MockExpectation defines expected request and mock response
type MockExpectation struct {
	Request  MockRequest  `yaml:"request"`
	Response MockResponse `yaml:"response"`
}

// MockRequest defines expected request properties
type MockRequest struct {
	Method      string            `yaml:"method,omitempty"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Body        map[string]any    `yaml:"body,omitempty"`
	QueryParams map[string]string `yaml:"queryParams,omitempty"`
}

// MockResponse defines the mock response to return
type MockResponse struct {
	StatusCode int               `yaml:"statusCode,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	BodyFile   string            `yaml:"bodyFile,omitempty"`
	BodyJSON   any               `yaml:"bodyJSON,omitempty"`
	BodyText   string            `yaml:"bodyText,omitempty"`
	LatencyMs  int               `yaml:"latencyMs,omitempty"`
}

// MockConfig contains all mock expectations
type MockConfig struct {
	Mocks []MockExpectation `yaml:"mocks"`
}

// RecordedRequest is a request as seen by the mock.
type RecordedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// MockRoundTripper serves canned responses and records every request. It is
// safe for concurrent use.
type MockRoundTripper struct {
	Expectations  []MockExpectation
	Handler       func(req *http.Request, body []byte) (*http.Response, error) // takes precedence over Expectations
	Latency       func(req *http.Request) time.Duration                        // delay before answering
	InterceptFunc func(req *http.Request, resp *http.Response)                 // function to intercept and modify responses

	count    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu       sync.Mutex
	errors   []string
	requests []RecordedRequest
}

func NewMockRoundTripper(handler func(req *http.Request, body []byte) (*http.Response, error)) *MockRoundTripper {
	return &MockRoundTripper{Handler: handler}
}

func NewMockRoundTripperWithResponse(responses map[string]any) *MockRoundTripper {
	expectations := make([]MockExpectation, 0)
	for url, body := range responses {
		expectations = append(expectations, MockExpectation{
			Request: MockRequest{
				URL: url,
			},
			Response: MockResponse{
				StatusCode: http.StatusOK,
				BodyJSON:   body,
			},
		})
	}
	return &MockRoundTripper{Expectations: expectations}
}

func NewMockRoundTripperFromYAML(yamlPath string) (*MockRoundTripper, error) {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock config: %w", err)
	}

	var config MockConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse mock config: %w", err)
	}

	return &MockRoundTripper{Expectations: config.Mocks}, nil
}

// Client returns an http.Client using m as transport.
func (m *MockRoundTripper) Client() *http.Client {
	return &http.Client{Transport: m}
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.count.Add(1)
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header.Clone(),
		Body:   body,
	})
	m.mu.Unlock()

	if m.Latency != nil {
		if err := wait(req, m.Latency(req)); err != nil {
			return nil, err
		}
	}

	var resp *http.Response
	var err error
	if m.Handler != nil {
		resp, err = m.Handler(req, body)
	} else {
		resp, err = m.roundTripWithExpectations(req, body)
	}
	if err != nil {
		return nil, err
	}
	if resp.Request == nil {
		resp.Request = req
	}
	if m.InterceptFunc != nil {
		m.InterceptFunc(req, resp)
	}
	return resp, nil
}

func wait(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockRoundTripper) roundTripWithExpectations(req *http.Request, body []byte) (*http.Response, error) {
	// Find matching expectation - try to match fully (URL + validation)
	var matchedExpectation *MockExpectation
	var validationErrors []string

	for i := range m.Expectations {
		exp := &m.Expectations[i]
		if !matchesURL(req, &exp.Request) {
			continue
		}

		if err := validateRequest(req, body, &exp.Request); err == nil {
			matchedExpectation = exp
			break
		} else {
			validationErrors = append(validationErrors, fmt.Sprintf("Expectation %d: %s", i, err.Error()))
		}
	}

	if matchedExpectation == nil {
		var errMsg string
		if len(validationErrors) > 0 {
			errMsg = fmt.Sprintf("No matching expectation for %s %s. Validation errors: %v",
				req.Method, req.URL.String(), validationErrors)
		} else {
			errMsg = fmt.Sprintf("No mock expectation found for %s %s", req.Method, req.URL.String())
		}
		m.mu.Lock()
		m.errors = append(m.errors, errMsg)
		m.mu.Unlock()
		return JSONResponse(http.StatusBadRequest, map[string]string{"error": errMsg}), nil
	}

	if ms := matchedExpectation.Response.LatencyMs; ms > 0 {
		if err := wait(req, time.Duration(ms)*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return buildResponse(&matchedExpectation.Response), nil
}

func matchesURL(req *http.Request, expected *MockRequest) bool {
	expectedURL, err := url.Parse(expected.URL)
	if err != nil {
		return false
	}

	// query params are validated separately
	reqBase := req.URL.Scheme + "://" + req.URL.Host + strings.TrimRight(req.URL.Path, "/")
	expBase := expectedURL.Scheme + "://" + expectedURL.Host + strings.TrimRight(expectedURL.Path, "/")

	return reqBase == expBase
}

func validateRequest(req *http.Request, body []byte, expected *MockRequest) error {
	if expected.Method != "" && req.Method != expected.Method {
		return fmt.Errorf("method mismatch: expected %s, got %s", expected.Method, req.Method)
	}

	for key, expectedValue := range expected.Headers {
		actualValue := req.Header.Get(key)
		if actualValue != expectedValue {
			return fmt.Errorf("header %s mismatch: expected %q, got %q", key, expectedValue, actualValue)
		}
	}

	for key, expectedValue := range expected.QueryParams {
		actualValue := req.URL.Query().Get(key)
		if actualValue != expectedValue {
			return fmt.Errorf("query param %s mismatch: expected %q, got %q", key, expectedValue, actualValue)
		}
	}

	if len(expected.Body) > 0 {
		var actualBody map[string]any
		if err := json.Unmarshal(body, &actualBody); err != nil {
			return fmt.Errorf("failed to parse JSON body: %w", err)
		}
		for key, expectedValue := range expected.Body {
			actualValue, ok := actualBody[key]
			if !ok {
				return fmt.Errorf("body field %s missing", key)
			}
			if !deepEqual(expectedValue, actualValue) {
				return fmt.Errorf("body field %s mismatch: expected %v, got %v", key, expectedValue, actualValue)
			}
		}
	}

	return nil
}

func buildResponse(response *MockResponse) *http.Response {
	statusCode := response.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	headers := http.Header{}
	for key, value := range response.Headers {
		headers.Set(key, value)
	}
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/json")
	}

	var bodyData []byte
	var err error
	switch {
	case response.BodyFile != "":
		bodyData, err = os.ReadFile(response.BodyFile)
		if err != nil {
			return JSONResponse(http.StatusInternalServerError, map[string]string{"error": "failed to read body file: " + err.Error()})
		}
	case response.BodyJSON != nil:
		bodyData, err = json.Marshal(response.BodyJSON)
		if err != nil {
			return JSONResponse(http.StatusInternalServerError, map[string]string{"error": "failed to marshal body: " + err.Error()})
		}
	default:
		bodyData = []byte(response.BodyText)
	}

	return &http.Response{
		StatusCode:    statusCode,
		Body:          io.NopCloser(bytes.NewReader(bodyData)),
		Header:        headers,
		ContentLength: int64(len(bodyData)),
	}
}

// deepEqual compares two values for equality (simplified version)
func deepEqual(a, b any) bool {
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}

// Count returns the number of requests received.
func (m *MockRoundTripper) Count() int {
	return int(m.count.Load())
}

// PeakConcurrency returns the highest number of requests in flight at once.
func (m *MockRoundTripper) PeakConcurrency() int {
	return int(m.peak.Load())
}

// Requests returns a copy of the recorded requests in arrival order.
func (m *MockRoundTripper) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GetErrors returns all validation errors
func (m *MockRoundTripper) GetErrors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errors...)
}

// JSONResponse builds a response with body marshalled as JSON.
func JSONResponse(status int, body any) *http.Response {
	data, _ := json.Marshal(body)
	return RawResponse(status, "application/json", data)
}

// RawResponse builds a response with a fixed content type and body.
func RawResponse(status int, contentType string, body []byte) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// CreateResponseBody creates an io.ReadCloser from a string
func CreateResponseBody(body string) io.ReadCloser {
	return io.NopCloser(bytes.NewBufferString(body))
}
