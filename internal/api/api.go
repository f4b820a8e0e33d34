// Package api implements the Gatekeeper HTTP API: flag computation for the UI
// and administration of the published ruleset.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/gatekeeper/internal/member"
	"github.com/rafaeljc/gatekeeper/internal/policy"
	"github.com/rafaeljc/gatekeeper/internal/store"
	"github.com/rafaeljc/gatekeeper/internal/validation"
)

// defaultMaxBodyBytes applies when Deps.MaxBodyBytes is not set.
const defaultMaxBodyBytes = 1 << 20

// Deps are the collaborators of the API.
type Deps struct {
	// Engines holds the engine every compute request reads. Required.
	Engines *policy.Holder

	// Load rebuilds the engine on POST /rules:reload. Required.
	Load policy.LoadFunc

	// Rulesets enables ruleset publishing and history. Optional: without it
	// those routes answer 501.
	Rulesets store.RulesetRepository

	// Members enables the member upsert route used by the plan-switch
	// refetch. Optional: without it that route answers 501.
	Members member.Writer

	// MemberCache, when set, drops a member's cached record after an upsert.
	MemberCache MemberCache

	// APIKeyHash is the hex SHA-256 of the administration API key.
	APIKeyHash string

	// SkipAuth disables API key checks (tests and local development only).
	SkipAuth bool

	MaxBodyBytes int64

	// AuthFailuresPerMinute throttles each client IP after that many bad API
	// keys per minute. Zero disables throttling.
	AuthFailuresPerMinute int
}

// MemberCache is the invalidation side of the member cache.
type MemberCache interface {
	Invalidate(userID, planID string)
}

// API holds the router and its dependencies.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	engines      *policy.Holder
	load         policy.LoadFunc
	rulesets     store.RulesetRepository
	members      member.Writer
	memberCache  MemberCache
	apiKeyHash   string
	skipAuth     bool
	maxBodyBytes int64
	validate     *validator.Validate
	authLimiter  *authLimiter
}

// New builds the API and registers its routes.
//
// Panics if Engines or Load are missing, or if authentication is enabled
// without a hex SHA-256 API key hash.
func New(deps Deps) *API {
	if deps.Engines == nil {
		panic("api: engine holder cannot be nil")
	}
	validation.AssertPresent(deps.Load, "api load function")
	if !deps.SkipAuth && !validation.IsSHA256Hex(deps.APIKeyHash) {
		panic("api: apiKeyHash must be a hex SHA-256 digest when authentication is enabled")
	}

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	a := &API{
		Router:       chi.NewRouter(),
		engines:      deps.Engines,
		load:         deps.Load,
		rulesets:     deps.Rulesets,
		members:      deps.Members,
		memberCache:  deps.MemberCache,
		apiKeyHash:   deps.APIKeyHash,
		skipAuth:     deps.SkipAuth,
		maxBodyBytes: maxBody,
		validate:     validation.New(),
	}

	if !deps.SkipAuth && deps.AuthFailuresPerMinute > 0 {
		limiter, err := newAuthLimiter(deps.AuthFailuresPerMinute)
		if err != nil {
			panic(fmt.Sprintf("api: failed to create auth limiter: %v", err))
		}
		a.authLimiter = limiter
	}

	a.configureRoutes()
	return a
}

// Close releases background resources. The router must not be used afterwards.
func (a *API) Close() {
	if a.authLimiter != nil {
		a.authLimiter.close()
	}
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(recordPeerIP)
	a.Router.Use(middleware.RealIP)
	// RequestLogger must run before Metrics so panics recovered below are
	// still counted and logged with their final status.
	a.Router.Use(RequestLogger)
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))
	a.Router.Use(a.limitBody)

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		// Public: the UI computes flags without the administration key.
		r.Post("/flags:compute", a.handleComputeFlags)
		r.Get("/rules", a.handleListRules)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticateAPIKey)

			r.Post("/rules:reload", a.handleReloadRules)
			r.Get("/rulesets", a.handleListRulesets)
			r.Get("/rulesets/latest", a.handleGetLatestRuleset)
			r.Put("/rulesets", a.handlePutRuleset)
			r.Put("/members/{userID}/plans/{planID}", a.handlePutMember)
		})
	})
}

// handleHealthCheck reports that the process is serving HTTP. Deep checks
// live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
