package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"fleet-report/observability"
)

// SetupRouter creates and configures the HTTP router. Every route is
// instrumented under its path template.
func SetupRouter(h *Handler, metrics *observability.Metrics) *mux.Router {
	r := mux.NewRouter()
	handle := func(path string, fn http.HandlerFunc, methods ...string) {
		r.Handle(path, metrics.WrapHandler(path, fn)).Methods(methods...)
	}

	// Health check
	handle("/health", h.HealthCheck, "GET")
	handle("/api/health", h.HealthCheck, "GET")
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	// Reports
	handle("/api/reports", h.ListReports, "GET")
	handle("/api/reports/generate", h.GenerateReport, "POST")
	handle("/api/reports/jobs", h.RequestReportJob, "POST")
	handle("/api/reports/jobs/{jobId}", h.GetReportJob, "GET")
	handle("/api/reports/stream", h.StreamReports, "POST")
	handle("/api/reports/{eventId}", h.GetReport, "GET")
	handle("/api/reports/{eventId}/html", h.GetReportHTML, "GET")
	handle("/api/reports/{eventId}/charts", h.ExportCharts, "GET")

	// Events
	handle("/api/events/active", h.ActiveEvents, "GET")
	handle("/api/events/start", h.StartEvent, "POST")
	handle("/api/events/end", h.EndEvent, "POST")
	handle("/api/events/note", h.AddNote, "POST")
	handle("/api/events/{eventId}/span", h.GetEventSpan, "GET")
	handle("/api/events/{eventId}/images", h.UploadImage, "POST")
	if h.cfg.ImagesPath != "" {
		r.PathPrefix("/images/").Handler(http.StripPrefix("/images/", http.FileServer(http.Dir(h.cfg.ImagesPath)))).Methods("GET")
	}

	// Fleet mart
	handle("/api/rankings", h.GetRankings, "GET")
	handle("/api/mart/refresh", h.RefreshMart, "POST")
	handle("/api/cleanup", h.CleanupData, "POST")

	// Telemetry discovery
	handle("/api/devices", h.ListDevices, "GET")

	// Config Management
	handle("/api/config/trim", h.GetTrimConfig, "GET")
	handle("/api/config/trim", h.UpdateTrimConfig, "PUT")
	handle("/api/config/aliases", h.GetAliases, "GET")
	handle("/api/config/aliases", h.UpdateAliases, "PUT")

	return r
}

// CORSMiddleware adds CORS headers
func CORSMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(next)
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Printf("[HTTP] %s %s %d %s", r.Method, r.RequestURI, wrapped.statusCode, time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
