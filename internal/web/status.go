package web

import (
	"sync"
	"time"

	"calmirror/internal/mirror"
	"calmirror/internal/model"
)

// Status remembers the outcome of recent sync passes for /api/status.
type Status struct {
	mu          sync.RWMutex
	passes      int
	failures    int
	last        *mirror.PassResult
	lastSuccess time.Time
}

var _ mirror.Observer = (*Status)(nil)

// NewStatus creates an empty Status.
func NewStatus() *Status {
	return &Status{}
}

// ObservePass records res as the latest pass.
func (s *Status) ObservePass(res mirror.PassResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.passes++
	if res.Err != nil {
		s.failures++
	} else {
		s.lastSuccess = res.Started.Add(res.Duration)
	}
	s.last = &res
}

type passView struct {
	ID         string        `json:"id"`
	Started    time.Time     `json:"started"`
	DurationMS int64         `json:"duration_ms"`
	Summary    model.Summary `json:"summary"`
	Error      string        `json:"error,omitempty"`
}

type statusResponse struct {
	Passes      int        `json:"passes"`
	Failures    int        `json:"failures"`
	LastPass    *passView  `json:"last_pass,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

func (s *Status) snapshot() statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := statusResponse{Passes: s.passes, Failures: s.failures}
	if s.last != nil {
		v := &passView{
			ID:         s.last.ID,
			Started:    s.last.Started,
			DurationMS: s.last.Duration.Milliseconds(),
			Summary:    s.last.Summary,
		}
		if s.last.Err != nil {
			v.Error = s.last.Err.Error()
		}
		resp.LastPass = v
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		resp.LastSuccess = &t
	}
	return resp
}
