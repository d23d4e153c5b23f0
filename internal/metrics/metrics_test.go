package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"calmirror/internal/mirror"
	"calmirror/internal/model"
)

func TestObservePass(t *testing.T) {
	r := New()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r.ObservePass(mirror.PassResult{
		Started:  started,
		Duration: 2 * time.Second,
		Summary:  model.Summary{Created: 3, Deleted: 1, Failed: 1},
	})
	r.ObservePass(mirror.PassResult{
		Started: started,
		Err:     fmt.Errorf("%w: boom", mirror.ErrAuthentication),
	})
	r.ObservePass(mirror.PassResult{
		Started: started,
		Err:     &mirror.FetchError{Calendar: "calendar.ian", Err: errors.New("timeout")},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.passes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.passes.WithLabelValues("auth_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.passes.WithLabelValues("source_error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.actions.WithLabelValues("create")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.actions.WithLabelValues("update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("failed")))
	assert.Equal(t, float64(started.Add(2*time.Second).Unix()), testutil.ToFloat64(r.lastSuccess))
}

func TestRecordHTTPRequest(t *testing.T) {
	r := New()
	r.RecordHTTPRequest("GET", "/health", 200, 5*time.Millisecond)
	r.RecordHTTPRequest("GET", "/health", 200, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/health", "200")))

	families, err := r.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
