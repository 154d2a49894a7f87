package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics holds process-wide request and analysis counters.
type Metrics struct {
	RequestsTotal      atomic.Uint64
	RequestsInProgress atomic.Int64
	RequestsSuccess    atomic.Uint64
	RequestsFailed     atomic.Uint64

	AnalysesTotal    atomic.Uint64
	AnalysesRunning  atomic.Int64
	AnalysesFailed   atomic.Uint64
	AnalysesTimedOut atomic.Uint64

	StartTime time.Time
}

var globalMetrics = &Metrics{StartTime: time.Now()}

// IncrementAnalyses counts every upload admitted into the pipeline.
func IncrementAnalyses() { globalMetrics.AnalysesTotal.Add(1) }

// IncrementAnalysesRunning marks one pipeline run as in flight.
func IncrementAnalysesRunning() { globalMetrics.AnalysesRunning.Add(1) }

// DecrementAnalysesRunning marks an in-flight pipeline run as finished.
func DecrementAnalysesRunning() { globalMetrics.AnalysesRunning.Add(-1) }

// IncrementAnalysesFailed counts analyses that ended in an infrastructure error.
func IncrementAnalysesFailed() { globalMetrics.AnalysesFailed.Add(1) }

// IncrementAnalysesTimedOut counts analyses aborted because the tool outlived
// its timeout. Each one is also counted as failed.
func IncrementAnalysesTimedOut() { globalMetrics.AnalysesTimedOut.Add(1) }

// GetMetrics returns a snapshot of the counters plus runtime memory stats.
func GetMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       globalMetrics.RequestsTotal.Load(),
		"requests_in_progress": globalMetrics.RequestsInProgress.Load(),
		"requests_success":     globalMetrics.RequestsSuccess.Load(),
		"requests_failed":      globalMetrics.RequestsFailed.Load(),
		"analyses_total":       globalMetrics.AnalysesTotal.Load(),
		"analyses_running":     globalMetrics.AnalysesRunning.Load(),
		"analyses_failed":      globalMetrics.AnalysesFailed.Load(),
		"analyses_timed_out":   globalMetrics.AnalysesTimedOut.Load(),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware counts requests and classifies them by response status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		globalMetrics.RequestsTotal.Add(1)
		globalMetrics.RequestsInProgress.Add(1)
		defer globalMetrics.RequestsInProgress.Add(-1)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			globalMetrics.RequestsSuccess.Add(1)
		} else {
			globalMetrics.RequestsFailed.Add(1)
		}
	})
}

// MetricsHandler serves GetMetrics as JSON.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
