package switchpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/prometheus/prompb"
)

// ShiftAnalyzer runs the detection pipeline over a prepared series.
// This interface allows HTTP handlers to be tested independently of the
// full pipeline.
type ShiftAnalyzer interface {
	Analyze(series CountSeries) (*Analysis, error)
}

// Ensure Analyzer implements the interface
var _ ShiftAnalyzer = (*Analyzer)(nil)

const (
	// maxBodySize is the maximum allowed request body size (10MB)
	maxBodySize = 10 * 1024 * 1024
)

// AuthConfig configures API key authentication.
type AuthConfig struct {
	// Enabled turns on authentication
	Enabled bool `yaml:"enabled"`
	// APIKeys have full access
	APIKeys []string `yaml:"api_keys"`
	// ReadOnlyKeys can read analyses but not ingest or analyze
	ReadOnlyKeys []string `yaml:"read_only_keys"`
	// ExcludePaths are served without authentication
	ExcludePaths []string `yaml:"exclude_paths"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Port to listen on (default: 8099)
	Port int `yaml:"port"`
	// RateLimitPerSecond limits requests per client IP (default: 1000)
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`
	// Auth configures API key authentication
	Auth *AuthConfig `yaml:"auth"`
	// RemoteWriteEnabled turns on the Prometheus remote write endpoint
	RemoteWriteEnabled bool `yaml:"remote_write_enabled"`
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:               8099,
		RateLimitPerSecond: 1000,
	}
}

// rateLimiter implements a simple token bucket rate limiter per IP
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	cleanup  time.Duration // cleanup interval
	stop     chan struct{}
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the given rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		cleanup:  window * 2,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, v := range rl.visitors {
				if now.Sub(v.lastReset) > rl.cleanup {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stopCleanup() {
	close(rl.stop)
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if now.Sub(v.lastReset) >= rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = now
		return true
	}

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// rateLimitMiddleware wraps a handler with rate limiting
func rateLimitMiddleware(rl *rateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// authenticator handles API key authentication
type authenticator struct {
	enabled      bool
	apiKeys      map[string]bool
	readOnlyKeys map[string]bool
	excludePaths map[string]bool
}

func newAuthenticator(cfg *AuthConfig) *authenticator {
	a := &authenticator{
		apiKeys:      make(map[string]bool),
		readOnlyKeys: make(map[string]bool),
		excludePaths: make(map[string]bool),
	}

	if cfg == nil || !cfg.Enabled {
		a.enabled = false
		return a
	}

	a.enabled = true
	for _, key := range cfg.APIKeys {
		a.apiKeys[key] = true
	}
	for _, key := range cfg.ReadOnlyKeys {
		a.readOnlyKeys[key] = true
	}
	for _, path := range cfg.ExcludePaths {
		a.excludePaths[path] = true
	}
	// Always allow health endpoint without auth
	a.excludePaths["/health"] = true

	return a
}

// extractAPIKey extracts the API key from the request
func extractAPIKey(r *http.Request) string {
	// Check Authorization header (Bearer token)
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	// Check X-API-Key header
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	// Check query parameter
	return r.URL.Query().Get("api_key")
}

// isWriteOperation returns true if the request mutates server state
func isWriteOperation(r *http.Request) bool {
	return r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete
}

// authMiddleware wraps a handler with authentication
func authMiddleware(auth *authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.enabled {
			next(w, r)
			return
		}

		// Check if path is excluded from auth
		if auth.excludePaths[r.URL.Path] {
			next(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		// Check if it's a full-access key
		if auth.apiKeys[apiKey] {
			next(w, r)
			return
		}

		// Check if it's a read-only key
		if auth.readOnlyKeys[apiKey] {
			if isWriteOperation(r) {
				http.Error(w, "read-only API key cannot perform write operations", http.StatusForbidden)
				return
			}
			next(w, r)
			return
		}

		http.Error(w, "invalid API key", http.StatusUnauthorized)
	}
}

// middlewareWrapper wraps handlers with authentication and rate limiting
type middlewareWrapper func(h http.HandlerFunc) http.HandlerFunc

// Server exposes the detection pipeline over HTTP: series analysis,
// event ingestion, archived result retrieval, and result streaming.
type Server struct {
	config   ServerConfig
	analyzer ShiftAnalyzer
	store    EventStore
	archive  *Archive
	hub      *StreamHub
	notifier *Notifier
	prep     PrepConfig

	auth *authenticator
	rl   *rateLimiter

	mu       sync.RWMutex
	analyses map[string]*Analysis
	order    []string

	srv  *http.Server
	addr string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEventStore attaches an event store for ingestion and windowed
// analysis.
func WithEventStore(store EventStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

// WithArchive attaches an archive; completed analyses are written
// through and misses on reads fall back to it.
func WithArchive(archive *Archive) ServerOption {
	return func(s *Server) {
		s.archive = archive
	}
}

// WithStreamHub attaches a hub that broadcasts completed analyses to
// WebSocket subscribers on /stream.
func WithStreamHub(hub *StreamHub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithNotifier attaches a webhook notifier for qualifying shifts.
func WithNotifier(notifier *Notifier) ServerOption {
	return func(s *Server) {
		s.notifier = notifier
	}
}

// WithPrepConfig sets the preparation defaults for windowed analysis.
func WithPrepConfig(prep PrepConfig) ServerOption {
	return func(s *Server) {
		s.prep = prep
	}
}

// NewServer creates an API server around an analyzer.
func NewServer(cfg ServerConfig, analyzer ShiftAnalyzer, opts ...ServerOption) *Server {
	rate := cfg.RateLimitPerSecond
	if rate <= 0 {
		rate = 1000
	}

	s := &Server{
		config:   cfg,
		analyzer: analyzer,
		prep:     DefaultPrepConfig(),
		auth:     newAuthenticator(cfg.Auth),
		rl:       newRateLimiter(rate, time.Second),
		analyses: make(map[string]*Analysis),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type analyzeRequest struct {
	// Counts analyzes an inline series of daily counts
	Counts []int     `json:"counts,omitempty"`
	Start  time.Time `json:"start,omitempty"`

	// From and To analyze events from the store instead
	From   time.Time `json:"from,omitempty"`
	To     time.Time `json:"to,omitempty"`
	Labels []string  `json:"labels,omitempty"`
}

type ingestRequest struct {
	Events []Event `json:"events"`
}

type analysisSummary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Days           int       `json:"days"`
	Tau            int       `json:"tau"`
	Date           time.Time `json:"date,omitempty"`
	Probability    float64   `json:"probability"`
	LogBayesFactor float64   `json:"log_bayes_factor"`
}

// Handler returns the full route table. Exposed for tests and for
// embedding in a larger mux.
func (s *Server) Handler() http.Handler {
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		h = authMiddleware(s.auth, h)
		if s.rl != nil {
			h = rateLimitMiddleware(s.rl, h)
		}
		return h
	}

	mux := http.NewServeMux()
	s.setupAnalysisRoutes(mux, wrap)
	s.setupIngestRoutes(mux, wrap)
	s.setupOpsRoutes(mux, wrap)
	return mux
}

// setupAnalysisRoutes configures analysis endpoints
func (s *Server) setupAnalysisRoutes(mux *http.ServeMux, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/analyze", wrap(s.handleAnalyze))
	mux.HandleFunc("/api/v1/analyses", wrap(s.handleListAnalyses))
	mux.HandleFunc("/api/v1/analyses/", wrap(s.handleAnalysisByID))
}

// setupIngestRoutes configures event ingestion endpoints
func (s *Server) setupIngestRoutes(mux *http.ServeMux, wrap middlewareWrapper) {
	mux.HandleFunc("/api/v1/events", wrap(s.handleIngest))
	mux.HandleFunc("/prometheus/write", wrap(s.handleRemoteWrite))
}

// setupOpsRoutes configures operational endpoints
func (s *Server) setupOpsRoutes(mux *http.ServeMux, wrap middlewareWrapper) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.Handle("/metrics", promhttp.Handler())

	if s.hub != nil {
		mux.HandleFunc("/stream", wrap(s.hub.WebSocketHandler()))
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	series, err := s.resolveSeries(r.Context(), req)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	start := time.Now()
	analysis, err := s.analyzer.Analyze(series)
	observeAnalysis(time.Since(start), err)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}

	s.remember(analysis)

	if s.archive != nil {
		if err := s.archive.SaveAnalysis(r.Context(), analysis); err != nil {
			slog.Warn("failed to archive analysis", "id", analysis.ID, "err", err)
		}
	}
	if s.hub != nil {
		s.hub.Publish(analysis)
	}
	if s.notifier != nil {
		go func() { _ = s.notifier.Notify(context.Background(), analysis) }()
	}

	writeJSON(w, analysis)
}

// resolveSeries builds the series to analyze, either from inline counts
// or from stored events over the requested window.
func (s *Server) resolveSeries(ctx context.Context, req analyzeRequest) (CountSeries, error) {
	if len(req.Counts) > 0 {
		return NewCountSeries(req.Start, req.Counts)
	}

	if s.store == nil {
		return CountSeries{}, newInputError("http.analyze", "counts are required when no event store is configured")
	}

	events, err := s.store.Scan(ctx, req.From, req.To)
	if err != nil {
		return CountSeries{}, err
	}

	prep := s.prep
	prep.From, prep.To = req.From, req.To
	if len(req.Labels) > 0 {
		prep.Labels = req.Labels
	}

	series, report, err := PrepareSeries(events, prep)
	if err != nil {
		return CountSeries{}, err
	}
	slog.Debug("prepared series from store",
		"kept", report.Kept, "dropped", report.Dropped, "days", report.Days)
	return series, nil
}

func (s *Server) remember(a *Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[a.ID] = a
	s.order = append(s.order, a.ID)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	summaries := make([]analysisSummary, 0, len(s.order))
	for _, id := range s.order {
		a := s.analyses[id]
		summaries = append(summaries, analysisSummary{
			ID:             a.ID,
			CreatedAt:      a.CreatedAt,
			Days:           a.Series.Len(),
			Tau:            a.Changepoint.Tau,
			Date:           a.Changepoint.Date,
			Probability:    a.Changepoint.Probability,
			LogBayesFactor: a.Comparison.LogBayesFactor,
		})
	}
	s.mu.RUnlock()

	writeJSON(w, map[string]any{"analyses": summaries})
}

func (s *Server) handleAnalysisByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/analyses/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, "analysis ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		a, ok := s.analyses[id]
		s.mu.RUnlock()
		if ok {
			writeJSON(w, a)
			return
		}

		if s.archive == nil {
			writeAnalysisError(w, ErrNotFound)
			return
		}
		a, err := s.archive.LoadAnalysis(r.Context(), id)
		if err != nil {
			writeAnalysisError(w, err)
			return
		}
		writeJSON(w, a)

	case http.MethodDelete:
		s.mu.Lock()
		if _, ok := s.analyses[id]; ok {
			delete(s.analyses, id)
			for i, oid := range s.order {
				if oid == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		}
		s.mu.Unlock()

		if s.archive != nil {
			if err := s.archive.DeleteAnalysis(r.Context(), id); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("failed to delete archived analysis", "id", id, "err", err)
			}
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeError(w, "event store not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() { _ = gz.Close() }()
		reader = io.LimitReader(gz, maxBodySize)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.store.Append(r.Context(), req.Events); err != nil {
		writeAnalysisError(w, err)
		return
	}

	observeIngested("api", len(req.Events))
	writeJSONStatus(w, http.StatusAccepted, map[string]int{"ingested": len(req.Events)})
}

func (s *Server) handleRemoteWrite(w http.ResponseWriter, r *http.Request) {
	if !s.config.RemoteWriteEnabled {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeError(w, "event store not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	decoded, err := snappy.Decode(nil, body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(decoded); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	events := convertRemoteWrite(&req)
	if err := s.store.Append(r.Context(), events); err != nil {
		writeAnalysisError(w, err)
		return
	}

	observeIngested("remote_write", len(events))
	writeJSONStatus(w, http.StatusAccepted, map[string]int{"ingested": len(events)})
}

// convertRemoteWrite turns remote write samples into events. The metric
// name becomes the event label and the sample value the occurrence
// count. Non-finite and non-positive samples carry no occurrences and
// are skipped.
func convertRemoteWrite(req *prompb.WriteRequest) []Event {
	events := make([]Event, 0, len(req.Timeseries))
	for i := range req.Timeseries {
		ts := &req.Timeseries[i]
		label := ""
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				label = l.Value
				break
			}
		}
		for _, sample := range ts.Samples {
			if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
				continue
			}
			count := int(math.Round(sample.Value))
			if count <= 0 {
				continue
			}
			events = append(events, Event{
				Time:  time.Unix(0, sample.Timestamp*int64(time.Millisecond)).UTC(),
				Count: count,
				Label: label,
			})
		}
	}
	return events
}

// Start registers metrics collectors and begins serving on the
// configured port.
func (s *Server) Start() error {
	if err := RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	port := s.config.Port
	if port <= 0 || port > 65535 {
		port = 8099
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()

	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		_ = s.srv.Serve(listener)
	}()

	slog.Info("http server listening", "addr", s.addr)
	return nil
}

// Addr returns the bound listen address after Start.
func (s *Server) Addr() string {
	return s.addr
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.rl != nil {
		s.rl.stopCleanup()
	}
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
