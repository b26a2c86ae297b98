// Package http is the JSON API surface. Identity arrives as an X-User-ID
// header set by the fronting auth proxy; this layer never validates
// credentials itself.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ricevute/internal/account"
	"ricevute/internal/core"
	"ricevute/internal/family"
	"ricevute/internal/ingest"
	"ricevute/internal/services"
)

// ProfileStore upserts the caller's profile from the identity headers, so
// family rosters can resolve names without a separate signup flow.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p core.Profile) error
}

// UsageReader lists the caller's AI usage audit trail.
type UsageReader interface {
	ListUsageByUser(ctx context.Context, userID string, limit int) ([]core.UsageRecord, error)
}

type Server struct {
	http.Server

	families   *family.Service
	resolver   *account.Resolver
	categories *services.CategoryService
	receipts   *services.ReceiptService
	spend      *services.Aggregator
	reconciler *ingest.Reconciler
	profiles   ProfileStore
	usage      UsageReader

	maxImageBytes int64
	rateLimiter   *rateLimiter
	ingestLimiter *rateLimiter
	metrics       *securityMetrics
	shutdownOnce  sync.Once
}

type Deps struct {
	Families   *family.Service
	Resolver   *account.Resolver
	Categories *services.CategoryService
	Receipts   *services.ReceiptService
	Spend      *services.Aggregator
	Reconciler *ingest.Reconciler
	Profiles   ProfileStore
	Usage      UsageReader

	MaxImageBytes   int64
	RateLimitPerMin int
	IngestPerMin    int
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	rpm := deps.RateLimitPerMin
	if rpm < 1 {
		rpm = 60
	}
	ipm := deps.IngestPerMin
	if ipm < 1 {
		ipm = 10
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		families:      deps.Families,
		resolver:      deps.Resolver,
		categories:    deps.Categories,
		receipts:      deps.Receipts,
		spend:         deps.Spend,
		reconciler:    deps.Reconciler,
		profiles:      deps.Profiles,
		usage:         deps.Usage,
		maxImageBytes: deps.MaxImageBytes,
		rateLimiter:   newRateLimiter(rpm, time.Minute),
		ingestLimiter: newRateLimiter(ipm, time.Minute),
		metrics:       &securityMetrics{},
	}
	if s.maxImageBytes <= 0 {
		s.maxImageBytes = ingest.DefaultMaxImageBytes
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/accounts", s.wrap(s.handleListAccounts))
	mux.HandleFunc("PUT /api/accounts/current", s.wrap(s.handleSelectAccount))

	mux.HandleFunc("GET /api/categories", s.wrap(s.handleListCategories))

	mux.HandleFunc("POST /api/receipts/ingest", s.wrap(s.handleIngestReceipt))
	mux.HandleFunc("POST /api/receipts", s.wrap(s.handleCreateReceipt))
	mux.HandleFunc("GET /api/receipts", s.wrap(s.handleListReceipts))
	mux.HandleFunc("GET /api/receipts/{id}", s.wrap(s.handleGetReceipt))
	mux.HandleFunc("PATCH /api/receipts/{id}", s.wrap(s.handleUpdateReceipt))
	mux.HandleFunc("DELETE /api/receipts/{id}", s.wrap(s.handleDeleteReceipt))
	mux.HandleFunc("PUT /api/receipts/{id}/items", s.wrap(s.handleReplaceItems))
	mux.HandleFunc("POST /api/receipts/{id}/items", s.wrap(s.handleAddItem))
	mux.HandleFunc("DELETE /api/items/{id}", s.wrap(s.handleDeleteItem))

	mux.HandleFunc("GET /api/summary", s.wrap(s.handleSummary))

	mux.HandleFunc("GET /api/families", s.wrap(s.handleListFamilies))
	mux.HandleFunc("POST /api/families", s.wrap(s.handleCreateFamily))
	mux.HandleFunc("DELETE /api/families/{id}", s.wrap(s.handleDeleteFamily))
	mux.HandleFunc("GET /api/families/{id}/members", s.wrap(s.handleListMembers))
	mux.HandleFunc("DELETE /api/families/{id}/members/{userID}", s.wrap(s.handleRemoveMember))
	mux.HandleFunc("POST /api/families/{id}/leave", s.wrap(s.handleLeaveFamily))
	mux.HandleFunc("POST /api/families/{id}/invitations", s.wrap(s.handleInvite))
	mux.HandleFunc("GET /api/invitations", s.wrap(s.handleListInvitations))
	mux.HandleFunc("DELETE /api/invitations/{id}", s.wrap(s.handleCancelInvitation))
	mux.HandleFunc("POST /api/invitations/{id}/accept", s.wrap(s.handleAcceptInvitation))

	mux.HandleFunc("GET /api/usage", s.wrap(s.handleListUsage))

	return s
}

// identityHandler is an API handler with the caller already resolved.
type identityHandler func(w http.ResponseWriter, r *http.Request, userID string)

// wrap applies the shared middleware chain: request ID, logging, rate
// limiting on writes, security headers, and identity extraction.
func (s *Server) wrap(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet {
			limiter := s.rateLimiter
			if strings.HasSuffix(r.URL.Path, "/ingest") {
				limiter = s.ingestLimiter
			}
			if !limiter.allow(clientIP, s.metrics) {
				slog.WarnContext(ctx, "Rate limit exceeded",
					"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
				return
			}
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		userID := sanitizeInput(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{Error: "missing X-User-ID header", Code: "unauthenticated"})
			return
		}
		s.bootstrapProfile(r, userID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r, userID)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

type requestIDKey struct{}

// bootstrapProfile keeps the caller's profile row current from the
// identity headers. Failures are logged, never surfaced: a stale display
// name must not break the request.
func (s *Server) bootstrapProfile(r *http.Request, userID string) {
	if s.profiles == nil {
		return
	}
	name := sanitizeInput(r.Header.Get("X-User-Name"))
	email := sanitizeInput(r.Header.Get("X-User-Email"))
	if name == "" && email == "" {
		return
	}
	p := core.Profile{ID: userID, Name: name, Email: email}
	if err := s.profiles.UpsertProfile(r.Context(), p); err != nil {
		slog.WarnContext(r.Context(), "Failed to upsert profile",
			"user_id", userID, "error", err)
	}
}

// currentScope resolves the caller's active account into a query scope.
func (s *Server) currentScope(r *http.Request, userID string) (core.Scope, error) {
	fams, err := s.families.LoadFamilies(r.Context(), userID)
	if err != nil {
		return core.Scope{}, err
	}
	sel := s.resolver.Resolve(userID, fams.Families, false)
	if sel.Current == nil {
		return core.Scope{UserID: userID}, nil
	}
	return sel.Current.Scope(userID), nil
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		if s.ingestLimiter != nil {
			s.ingestLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
