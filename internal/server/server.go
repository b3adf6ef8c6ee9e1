// Package server wires stores, handlers, and middleware into the HTTP
// router.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/nwbull/heritage/internal/config"
	"github.com/nwbull/heritage/internal/handler"
	"github.com/nwbull/heritage/internal/middleware"
	"github.com/nwbull/heritage/internal/store"
	"github.com/nwbull/heritage/internal/token"
)

type Server struct {
	cfg     config.Config
	issuer  *token.Issuer
	auth    *handler.AuthHandler
	family  *handler.FamilyHandler
	admin   *handler.AdminHandler
	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

func New(db *sql.DB, cfg config.Config, exchanger handler.Exchanger, mailer handler.Mailer, logger *slog.Logger) *Server {
	users := store.NewUserStore(db)
	grants := store.NewGrantStore(db)
	invitations := store.NewInvitationStore(db)
	consents := store.NewConsentStore(db)

	issuer := token.NewIssuer([]byte(cfg.JWTSecret))

	return &Server{
		cfg:    cfg,
		issuer: issuer,
		auth: handler.NewAuthHandler(users, grants, exchanger, issuer, cfg.FrontendURL,
			logger.With("component", "auth")),
		family: handler.NewFamilyHandler(cfg, users, grants, invitations, consents, issuer, mailer,
			logger.With("component", "family")),
		admin: handler.NewAdminHandler(cfg, consents,
			logger.With("component", "admin")),
		limiter: middleware.NewRateLimiter(),
		logger:  logger,
	}
}

// StartCleanup runs rate-limiter maintenance in the background until ctx
// is cancelled.
func (s *Server) StartCleanup(ctx context.Context) {
	go s.limiter.CleanupLoop(ctx, time.Minute)
}

// Router builds the route table. Signup start is rate-limited per client
// IP since it triggers outbound OAuth traffic; everything behind
// RequireAuth needs a valid session cookie.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	requireAuth := middleware.RequireAuth(s.issuer)
	startLimit := middleware.RateLimit(s.limiter, middleware.RealIP, 10, time.Minute)

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /families", s.family.ListFamilies)

	mux.Handle("POST /signup/start", startLimit(http.HandlerFunc(s.auth.SignupStart)))
	mux.HandleFunc("GET /oauth/callback", s.auth.OAuthCallback)
	mux.HandleFunc("GET /magic/{token}", s.auth.MagicLogin)
	mux.HandleFunc("GET /verify/{token}", s.auth.VerifyEmail)

	mux.Handle("POST /signup/request-access", requireAuth(http.HandlerFunc(s.family.RequestAccess)))
	mux.Handle("POST /signup/create-family", requireAuth(http.HandlerFunc(s.family.CreateFamily)))
	mux.Handle("POST /signup/join-family", requireAuth(http.HandlerFunc(s.family.JoinFamily)))
	mux.Handle("GET /me", requireAuth(http.HandlerFunc(s.family.Me)))
	mux.Handle("POST /consent/{family}", requireAuth(http.HandlerFunc(s.family.Consent)))

	mux.HandleFunc("GET /admin/emails/{family}", s.admin.ExportEmails)

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"service":"heritage","status":"ok"}`))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}
