package metrics

import (
	"encoding/json"
	"expvar"
	"net"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// Local diagnostics endpoints (bind them on 127.0.0.1 in your main)
	StatsPath     = "/stats"
	DebugVarsPath = "/debug/vars"
	EnvPath       = "/admin/env"

	EnvPrefix     = "CHRISTMAS_"
	SessionCookie = "cs_session"
)

// Submission outcomes counted by RecordSubmission.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "relay_failed"
	OutcomeInvalid   = "invalid_name"
	OutcomeInFlight  = "in_flight"
	OutcomePanic     = "panic"
)

var (
	reloadMu       sync.Mutex
	reloadCallback func() error
	sourcesMu      sync.Mutex
	sources        Sources
	st             = newState()
	initOnce       sync.Once
)

// Init publishes expvar variables. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		vars := map[string]func() any{
			"cs_started_at":                  func() any { return st.startedAt.Format(time.RFC3339) },
			"cs_uptime_seconds":              func() any { return int64(time.Since(st.startedAt).Seconds()) },
			"cs_total_requests":              func() any { return st.totalReq },
			"cs_total_errors":                func() any { return st.totalErr },
			"cs_total_latency_ms":            func() any { return st.totalLatency.Milliseconds() },
			"cs_active_sessions_5m":          func() any { st.pruneLocked(time.Now()); return int64(len(st.active)) },
			"cs_requests_by_method_status":   func() any { return st.methodStatusLocked() },
			"cs_request_duration_ms_buckets": func() any { return copyNested(st.durationBuckets) },
			"cs_requests_last_10m":           func() any { return append([]int64(nil), st.perMinute[:]...) },
			"cs_submissions_by_outcome":      func() any { return copyFlat(st.submissions) },
			"cs_locations_by_source":         func() any { return copyFlat(st.locations) },
		}
		for name, fn := range vars {
			expvar.Publish(name, expvar.Func(func() any {
				st.mu.Lock()
				defer st.mu.Unlock()
				return fn()
			}))
		}
	})
}

// SetReloadCallback sets the function to call after CHRISTMAS_* variables were changed at runtime
func SetReloadCallback(callback func() error) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadCallback = callback
}

// Sources feeds state owned by other packages into the /stats snapshot. Nil fields are skipped.
type Sources struct {
	Cache     func() (map[string]int, error)
	Scheduler func() SchedulerStats
}

type SchedulerStats struct {
	Enabled  bool   `json:"enabled"`
	CronSpec string `json:"cron_spec"`
	IdleTTL  string `json:"idle_ttl"`
}

func SetSources(s Sources) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	sources = s
}

// RecordSubmission counts one submit attempt by outcome.
func RecordSubmission(outcome string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.submissions[outcome]++
}

// RecordLocation counts one resolved location by source (manual, ip_detection, ...).
func RecordLocation(source string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.locations[source]++
}

// Instrument wraps an http.Handler to record request count, status codes, latency
// buckets, requests-per-minute, and active sessions (5m window).
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 0}
		start := time.Now()
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		st.record(r, sw.status, time.Since(start))
	})
}

// StatsHandler returns a compact JSON snapshot, suitable for quick human inspection.
func StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Snapshot())
}

// Snapshot returns the same data StatsHandler serves.
func Snapshot() Stats {
	stats := snapshotRequests(time.Now())

	sourcesMu.Lock()
	src := sources
	sourcesMu.Unlock()
	if src.Cache != nil {
		if entries, err := src.Cache(); err != nil {
			stats.CacheError = err.Error()
		} else {
			stats.Cache = entries
		}
	}
	if src.Scheduler != nil {
		sched := src.Scheduler()
		stats.Scheduler = &sched
	}
	return stats
}

func snapshotRequests(now time.Time) Stats {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.pruneLocked(now)
	avgLatencyMs := float64(0)
	if st.totalReq > 0 {
		avgLatencyMs = float64(st.totalLatency.Milliseconds()) / float64(st.totalReq)
	}

	return Stats{
		StartedAt:                 st.startedAt.Format(time.RFC3339),
		UptimeSeconds:             int64(now.Sub(st.startedAt).Seconds()),
		TotalRequests:             st.totalReq,
		TotalErrors:               st.totalErr,
		AverageLatencyMs:          avgLatencyMs,
		RequestsPerMinuteLast10m:  append([]int64(nil), st.perMinute[:]...),
		ActiveSessions5m:          int64(len(st.active)),
		RequestsByMethodAndStatus: st.methodStatusLocked(),
		SubmissionsByOutcome:      copyFlat(st.submissions),
		LocationsBySource:         copyFlat(st.locations),
	}
}

// ===== Internals =====

type Stats struct {
	StartedAt                 string                      `json:"started_at"`
	UptimeSeconds             int64                       `json:"uptime_seconds"`
	TotalRequests             int64                       `json:"total_requests"`
	TotalErrors               int64                       `json:"total_errors"`
	AverageLatencyMs          float64                     `json:"avg_latency_ms"`
	RequestsPerMinuteLast10m  []int64                     `json:"requests_last_10m_newest_first"`
	ActiveSessions5m          int64                       `json:"active_sessions_5m"`
	RequestsByMethodAndStatus map[string]map[string]int64 `json:"requests_by_method_status"`
	SubmissionsByOutcome      map[string]int64            `json:"submissions_by_outcome"`
	LocationsBySource         map[string]int64            `json:"locations_by_source"`
	Cache                     map[string]int              `json:"cache,omitempty"`
	CacheError                string                      `json:"cache_error,omitempty"`
	Scheduler                 *SchedulerStats             `json:"scheduler,omitempty"`
}

type metricsState struct {
	mu sync.Mutex

	startedAt time.Time

	totalReq     int64
	totalErr     int64
	totalLatency time.Duration

	// method -> statusCode -> count
	byMethodStatus map[string]map[int]int64
	// method -> bucketLabel -> count
	durationBuckets map[string]map[string]int64

	// Newest minute is perMinute[0], oldest is perMinute[9]
	perMinute  [10]int64
	lastMinute time.Time

	// session key -> last seen time
	active map[string]time.Time

	submissions map[string]int64
	locations   map[string]int64
}

func newState() *metricsState {
	return &metricsState{
		startedAt:       time.Now(),
		byMethodStatus:  make(map[string]map[int]int64),
		durationBuckets: make(map[string]map[string]int64),
		active:          make(map[string]time.Time),
		submissions:     make(map[string]int64),
		locations:       make(map[string]int64),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *metricsState) record(r *http.Request, statusCode int, d time.Duration) {
	now := time.Now()
	method := r.Method
	if method == "" {
		method = "UNKNOWN"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalReq++
	if statusCode >= 400 {
		s.totalErr++
	}
	s.totalLatency += d

	if _, ok := s.byMethodStatus[method]; !ok {
		s.byMethodStatus[method] = make(map[int]int64)
	}
	s.byMethodStatus[method][statusCode]++

	bucket := bucketLabel(d)
	if _, ok := s.durationBuckets[method]; !ok {
		s.durationBuckets[method] = make(map[string]int64)
	}
	s.durationBuckets[method][bucket]++

	s.advanceMinuteLocked(now)
	s.perMinute[0]++

	s.active[sessionKey(r)] = now
	s.pruneLocked(now)
}

// advanceMinuteLocked shifts the per-minute ring so perMinute[0] is the current minute.
func (s *metricsState) advanceMinuteLocked(now time.Time) {
	curr := now.Truncate(time.Minute)
	if s.lastMinute.IsZero() {
		s.lastMinute = curr
		return
	}
	delta := int(curr.Sub(s.lastMinute) / time.Minute)
	if delta <= 0 {
		return
	}
	if delta >= len(s.perMinute) {
		s.perMinute = [10]int64{}
	} else {
		copy(s.perMinute[delta:], s.perMinute[:len(s.perMinute)-delta])
		for i := 0; i < delta; i++ {
			s.perMinute[i] = 0
		}
	}
	s.lastMinute = curr
}

func (s *metricsState) pruneLocked(now time.Time) {
	cutoff := now.Add(-5 * time.Minute)
	for k, t := range s.active {
		if t.Before(cutoff) {
			delete(s.active, k)
		}
	}
}

func (s *metricsState) methodStatusLocked() map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(s.byMethodStatus))
	for m, inner := range s.byMethodStatus {
		o2 := make(map[string]int64, len(inner))
		for code, c := range inner {
			o2[strconv.Itoa(code)] = c
		}
		out[m] = o2
	}
	return out
}

func copyNested(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for k, inner := range in {
		out[k] = copyFlat(inner)
	}
	return out
}

func copyFlat(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var bucketBounds = []time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2500 * time.Millisecond,
	5000 * time.Millisecond,
}

func bucketLabel(d time.Duration) string {
	for _, b := range bucketBounds {
		if d <= b {
			return "le_" + strconv.FormatInt(b.Milliseconds(), 10) + "ms"
		}
	}
	return "gt_5000ms"
}

// sessionKey prefers the form session cookie and falls back to the client address.
func sessionKey(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return "session:" + c.Value
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			xff = xff[:idx]
		}
		if xff = strings.TrimSpace(xff); xff != "" {
			return "ip:" + xff
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}

var envName = regexp.MustCompile(`^` + EnvPrefix + `[A-Z0-9_]+$`)

type envListing struct {
	Timestamp string            `json:"timestamp"`
	EnvVars   map[string]string `json:"env_vars"`
}

type envUpdate struct {
	Timestamp string            `json:"timestamp"`
	Updated   map[string]string `json:"updated"`
	Errors    map[string]string `json:"errors"`
	Reloaded  bool              `json:"reloaded"`
}

// EnvHandler lists (GET) or sets (POST/PUT) CHRISTMAS_* variables. A successful set runs the
// reload callback.
func EnvHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listEnv(w)
	case http.MethodPost, http.MethodPut:
		setEnv(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func listEnv(w http.ResponseWriter) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, EnvPrefix) {
			vars[key] = value
		}
	}
	writeJSON(w, http.StatusOK, envListing{Timestamp: time.Now().UTC().Format(time.RFC3339), EnvVars: vars})
}

func setEnv(w http.ResponseWriter, r *http.Request) {
	var changes map[string]string
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		http.Error(w, "Body must be a JSON object of strings", http.StatusBadRequest)
		return
	}

	res := envUpdate{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Updated:   make(map[string]string),
		Errors:    make(map[string]string),
	}
	for key, value := range changes {
		if !envName.MatchString(key) {
			res.Errors[key] = "not a " + EnvPrefix + "* variable name"
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			res.Errors[key] = err.Error()
			continue
		}
		res.Updated[key] = value
	}

	reloadMu.Lock()
	callback := reloadCallback
	reloadMu.Unlock()

	if len(res.Updated) > 0 && callback != nil {
		if err := callback(); err != nil {
			res.Errors["reload"] = err.Error()
		} else {
			res.Reloaded = true
		}
	}

	code := http.StatusOK
	if len(res.Updated) == 0 && len(res.Errors) > 0 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}
