package rpc

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Endpoint is one base URL of a node's REST API together with its recent
// request history.
type Endpoint struct {
	URL string

	mu                  sync.RWMutex
	totalRequests       uint64
	failedRequests      uint64
	consecutiveFailures int
	lastSuccess         time.Time
	lastError           error
}

func NewEndpoint(rawURL string) *Endpoint {
	return &Endpoint{URL: strings.TrimRight(rawURL, "/")}
}

func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.consecutiveFailures = 0
	e.lastSuccess = time.Now()
}

func (e *Endpoint) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.failedRequests++
	e.consecutiveFailures++
	e.lastError = err
}

// ConsecutiveFailures returns the length of the current failure streak.
func (e *Endpoint) ConsecutiveFailures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.consecutiveFailures
}

// Status returns a snapshot for logging.
func (e *Endpoint) Status() EndpointStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := EndpointStatus{
		URL:                 e.URL,
		TotalRequests:       e.totalRequests,
		FailedRequests:      e.failedRequests,
		ConsecutiveFailures: e.consecutiveFailures,
		LastSuccess:         e.lastSuccess,
	}
	if e.lastError != nil {
		status.LastError = e.lastError.Error()
	}
	return status
}

// EndpointStatus is a point-in-time view of an Endpoint.
type EndpointStatus struct {
	URL                 string    `json:"url"`
	TotalRequests       uint64    `json:"total_requests"`
	FailedRequests      uint64    `json:"failed_requests"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
}

// Pool holds the base URLs of one node in configuration order. The first
// URL is the primary and names cache keys.
type Pool struct {
	endpoints []*Endpoint
}

func NewPool(urls ...string) *Pool {
	endpoints := make([]*Endpoint, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		ep := NewEndpoint(u)
		if ep.URL == "" || seen[ep.URL] {
			continue
		}
		seen[ep.URL] = true
		endpoints = append(endpoints, ep)
	}
	return &Pool{endpoints: endpoints}
}

func (p *Pool) Len() int { return len(p.endpoints) }

// Primary returns the first configured base URL.
func (p *Pool) Primary() string {
	if len(p.endpoints) == 0 {
		return ""
	}
	return p.endpoints[0].URL
}

// Ordered returns the endpoints to try for the next request: shortest
// failure streak first, configuration order among equals.
func (p *Pool) Ordered() []*Endpoint {
	ordered := make([]*Endpoint, len(p.endpoints))
	copy(ordered, p.endpoints)

	failures := make(map[*Endpoint]int, len(ordered))
	for _, ep := range ordered {
		failures[ep] = ep.ConsecutiveFailures()
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return failures[ordered[i]] < failures[ordered[j]]
	})
	return ordered
}

func (p *Pool) Statuses() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, ep.Status())
	}
	return out
}
