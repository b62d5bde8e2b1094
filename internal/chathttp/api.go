// Package chathttp serves the chat endpoints: the visitor-facing assistant
// and the admin console. Both are metered by a fixed-window limiter before
// the language model is called.
package chathttp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Endpoint labels used in logs and metrics.
const (
	EndpointPublic = "public"
	EndpointAdmin  = "admin"
)

// NoContext is sent to the model when the portfolio cannot be read.
const NoContext = "No portfolio data available yet."

// ContextSource builds the portfolio summary the public assistant answers from.
type ContextSource interface {
	ChatContext(ctx context.Context) string
}

// Metrics is the subset of metrics.ServerMetrics the handlers record into.
type Metrics interface {
	IncChatRequest(endpoint, outcome string)
	IncChatRateLimited(endpoint string)
	ObserveLLM(endpoint string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IncChatRequest(string, string)    {}
func (nopMetrics) IncChatRateLimited(string)        {}
func (nopMetrics) ObserveLLM(string, time.Duration) {}

type Options struct {
	Logger log.Logger

	// PublicLimiter is required. AdminLimiter defaults to PublicLimiter with
	// identities prefixed "admin:".
	PublicLimiter ratelimit.Limiter
	AdminLimiter  ratelimit.Limiter

	// Public and Admin may be nil, the endpoint then answers 503
	Public llm.Generator
	Admin  llm.Generator

	AdminModel string
	Portfolio  ContextSource
	Metrics    Metrics

	// AdminAuth guards the admin routes; nil leaves them unregistered
	AdminAuth func(http.Handler) http.Handler

	// MaxRequests is the limit quoted to rate limited visitors
	MaxRequests int

	// Location renders reset times in messages, default UTC
	Location *time.Location
	Now      func() time.Time
}

// API implements the chat endpoints
type API struct {
	logger      log.Logger
	public      llm.Generator
	admin       llm.Generator
	adminModel  string
	publicLim   ratelimit.Limiter
	adminLim    ratelimit.Limiter
	adminPrefix string
	portfolio   ContextSource
	metrics     Metrics
	adminAuth   func(http.Handler) http.Handler
	maxRequests int
	loc         *time.Location
	now         func() time.Time
}

// NewAPI creates the chat handlers.
func NewAPI(o Options) (*API, error) {
	if o.PublicLimiter == nil {
		return nil, xerrors.New("chathttp: public limiter is required")
	}
	api := &API{
		logger:      o.Logger,
		public:      o.Public,
		admin:       o.Admin,
		adminModel:  o.AdminModel,
		publicLim:   o.PublicLimiter,
		adminLim:    o.AdminLimiter,
		portfolio:   o.Portfolio,
		metrics:     o.Metrics,
		adminAuth:   o.AdminAuth,
		maxRequests: o.MaxRequests,
		loc:         o.Location,
		now:         o.Now,
	}
	if api.logger == nil {
		api.logger = log.Nop()
	}
	if api.adminLim == nil {
		api.adminLim = api.publicLim
		api.adminPrefix = "admin:"
	}
	if api.metrics == nil {
		api.metrics = nopMetrics{}
	}
	if api.maxRequests <= 0 {
		api.maxRequests = ratelimit.DefaultMaxRequests
	}
	if api.loc == nil {
		api.loc = time.UTC
	}
	if api.now == nil {
		api.now = time.Now
	}
	return api, nil
}

// RegisterRoutes attaches the chat endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.With(httpmw.Scope("chat_public")).Post("/api/public/chat", api.HandlePublicChat)

	if api.adminAuth == nil {
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(api.adminAuth, httpmw.Scope("chat_admin"))
		r.Post("/api/admin/chat", api.HandleAdminChat)
		r.Patch("/api/admin/chat", api.handleNotImplemented)
		r.Get("/api/admin/chat/status", api.HandleAdminStatus)
		r.Get("/api/admin/chat/models", api.HandleAdminModels)
	})
}

// HandlePublicChat answers a visitor's message, replaying recent history.
func (api *API) HandlePublicChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := api.decode(w, r, EndpointPublic, "Missing prompt")
	if !ok {
		return
	}
	prompt, _ := req.prompt()

	if api.public == nil {
		api.unavailable(ctx, w, EndpointPublic)
		return
	}

	identity := httpmw.ChatIdentity(r)
	d := api.publicLim.CheckAndIncrement(ctx, identity)
	if !d.Allowed {
		api.rateLimited(ctx, w, EndpointPublic, identity, d)
		return
	}

	portfolioContext := NoContext
	if api.portfolio != nil {
		portfolioContext = api.portfolio.ChatContext(ctx)
	}
	msgs := llm.PublicConversation(portfolioContext, req.history(), prompt)

	api.generate(ctx, w, EndpointPublic, api.public, msgs, d)
}

// HandleAdminChat forwards a single prompt from the admin console.
func (api *API) HandleAdminChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := api.decode(w, r, EndpointAdmin, "missing prompt")
	if !ok {
		return
	}
	prompt, _ := req.prompt()

	if api.admin == nil {
		api.unavailable(ctx, w, EndpointAdmin)
		return
	}

	identity := api.adminPrefix + httpmw.ChatIdentity(r)
	d := api.adminLim.CheckAndIncrement(ctx, identity)
	if !d.Allowed {
		api.rateLimited(ctx, w, EndpointAdmin, identity, d)
		return
	}

	api.generate(ctx, w, EndpointAdmin, api.admin, []llm.Message{{Role: llm.RoleUser, Text: prompt}}, d)
}

// HandleAdminStatus reports whether the admin model is configured.
func (api *API) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, StatusResponse{Success: true, Gemini: api.admin != nil})
}

// HandleAdminModels is informational only; no model listing call is made.
func (api *API) HandleAdminModels(w http.ResponseWriter, r *http.Request) {
	msg := "Model listing disabled."
	if api.adminModel != "" {
		msg += " The admin chat uses " + api.adminModel + "."
	}
	api.writeJSON(r.Context(), w, http.StatusOK, InfoResponse{Success: true, Message: msg})
}

func (api *API) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusNotFound, InfoResponse{Success: false, Error: "Not implemented"})
}

// decode reads the body and validates the prompt. It writes the 400 itself.
func (api *API) decode(w http.ResponseWriter, r *http.Request, endpoint, missing string) (wireRequest, bool) {
	ctx := r.Context()
	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.metrics.IncChatRequest(endpoint, metrics.OutcomeBadRequest)
		api.logger.Debug(ctx, "chat request body rejected", "endpoint", endpoint, "error", err)
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return wireRequest{}, false
	}
	if _, ok := req.prompt(); !ok {
		api.metrics.IncChatRequest(endpoint, metrics.OutcomeBadRequest)
		api.writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Error: missing})
		return wireRequest{}, false
	}
	return req, true
}

func (api *API) generate(ctx context.Context, w http.ResponseWriter, endpoint string, g llm.Generator, msgs []llm.Message, d ratelimit.Decision) {
	start := time.Now()
	reply, err := g.Generate(ctx, msgs)
	api.metrics.ObserveLLM(endpoint, time.Since(start))
	if err != nil {
		api.metrics.IncChatRequest(endpoint, metrics.OutcomeLLMError)
		api.logger.Error(ctx, err, "chat generation failed", "endpoint", endpoint, "turns", len(msgs))
		// upstream error text stays in the logs
		api.writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to generate response",
			Message: "The assistant could not answer right now. Please try again later.",
		})
		return
	}

	api.metrics.IncChatRequest(endpoint, metrics.OutcomeOK)
	api.writeJSON(ctx, w, http.StatusOK, ChatResponse{
		Reply:     reply,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAtMillis(),
	})
}

func (api *API) rateLimited(ctx context.Context, w http.ResponseWriter, endpoint, identity string, d ratelimit.Decision) {
	api.metrics.IncChatRateLimited(endpoint)
	api.metrics.IncChatRequest(endpoint, metrics.OutcomeRateLimited)
	api.logger.Info(ctx, "chat rate limit exceeded",
		"endpoint", endpoint,
		"identity", identity,
		"reset_at", d.ResetAt.UTC(),
	)

	w.Header().Set("Retry-After", retryAfter(d.ResetAt, api.now()))
	api.writeJSON(ctx, w, http.StatusTooManyRequests, RateLimitedResponse{
		Error:     "Rate limit exceeded",
		Message:   LimitMessage(api.maxRequests, d.ResetAt.In(api.loc)),
		ResetAt:   d.ResetAtMillis(),
		Remaining: 0,
	})
}

func (api *API) unavailable(ctx context.Context, w http.ResponseWriter, endpoint string) {
	api.metrics.IncChatRequest(endpoint, metrics.OutcomeUnavailable)
	api.writeJSON(ctx, w, http.StatusServiceUnavailable, ErrorResponse{Error: "chat is not configured"})
}

// LimitMessage is the text shown to a visitor who used up the window.
func LimitMessage(max int, resetAt time.Time) string {
	return fmt.Sprintf("You've reached your daily message limit (%d messages). The chat will reset on %s at %s. Feel free to contact me directly via the contact form!",
		max, resetAt.Format("1/2/2006"), resetAt.Format("3:04:05 PM MST"))
}

// retryAfter returns whole seconds until reset, at least 1
func retryAfter(resetAt, now time.Time) string {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprint(secs)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
