package twin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/smoldrop/redeem/internal/server"
)

// Options configures the twin's webhook behavior.
type Options struct {
	Shape      Shape
	JWTSecret  string // when set, requests must carry a valid HS256 bearer token
	JWTIssuer  string // optional required issuer
	QueryParam string // reference parameter for query delivery, default "t"
}

// Handler serves the webhook endpoints.
type Handler struct {
	store  *MemoryStore
	mw     *server.Middleware
	logger *slog.Logger
	opts   Options

	mu    sync.RWMutex
	shape Shape
}

// NewHandler creates the twin's webhook handler.
func NewHandler(s *MemoryStore, mw *server.Middleware, logger *slog.Logger, opts Options) *Handler {
	if opts.Shape == "" {
		opts.Shape = ShapeObject
	}
	if opts.QueryParam == "" {
		opts.QueryParam = "t"
	}
	return &Handler{store: s, mw: mw, logger: logger, opts: opts, shape: opts.Shape}
}

// Routes mounts the webhook routes and the twin's admin extras.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/webhook", func(r chi.Router) {
		r.Use(h.mw.FaultInjection)
		r.Use(h.tokenAuth)

		r.Post("/redeem", h.Redeem)
		r.Get("/info", h.Info)
	})

	r.Get("/admin/tickets", h.AdminListTickets)
	r.Post("/admin/tickets", h.AdminCreateTicket)
	r.Get("/admin/shape", h.AdminGetShape)
	r.Post("/admin/shape", h.AdminSetShape)
}

// Shape returns the current response shape.
func (h *Handler) Shape() Shape {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.shape
}

// SetShape changes the response shape.
func (h *Handler) SetShape(s Shape) {
	h.mu.Lock()
	h.shape = s
	h.mu.Unlock()
}

type claimsKey struct{}

// tokenAuth verifies the bearer token the proxy signs when a shared secret
// is configured. Without a secret every request passes.
func (h *Handler) tokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(auth, "Bearer ")
		if !found || raw == "" {
			h.unauthorized(w, "MISSING_TOKEN")
			return
		}

		parserOpts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		}
		if h.opts.JWTIssuer != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(h.opts.JWTIssuer))
		}
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return []byte(h.opts.JWTSecret), nil
		}, parserOpts...)
		if err != nil {
			h.logger.Debug("rejected webhook token", "error", err)
			h.unauthorized(w, "INVALID_TOKEN")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, &claims)))
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter, code string) {
	h.Shape().write(w, http.StatusUnauthorized, map[string]any{
		"result": "unauthorized",
		"error":  code,
	})
}

// tokenSubjectMatches reports whether the verified token, if any, was
// issued for ref.
func tokenSubjectMatches(r *http.Request, ref string) bool {
	claims, ok := r.Context().Value(claimsKey{}).(*jwt.RegisteredClaims)
	if !ok {
		return true
	}
	return claims.Subject == ref
}
