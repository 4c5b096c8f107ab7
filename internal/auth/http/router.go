package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aegis-id/aegis/internal/auth/cache"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/httpx"
	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyService
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	cache cache.Cache

	Orchestrator       *service.Orchestrator
	UserService        *service.UserService
	MFAEngine          *service.MFAEngine
	PasskeyService     *service.PasskeyService
	TokenService       *service.TokenService
	KeyRotationService *service.KeyRotationService

	// ExpiredRedirectURL is where expired step polls are redirected.
	ExpiredRedirectURL string
}

func NewRouter(
	keys *jwtx.KeyService,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	c cache.Cache,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		cache:        c,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOAuth2()
	r.registerMFA()
	r.registerPasskeys()
	r.registerUsers()
	r.registerKeys()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOAuth2() {
	authorizeHandler := &AuthorizeHandler{
		Orchestrator:       r.Orchestrator,
		Users:              r.UserService,
		MFA:                r.MFAEngine,
		ExpiredRedirectURL: r.ExpiredRedirectURL,
	}

	// POST /authorize - strict limit, this is the credential-bearing entry
	r.Mux.Handle("POST /v1/oauth2/authorize",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /authorize/step - polled by the login UI between steps
	r.Mux.Handle("GET /v1/oauth2/authorize/step",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandleStep),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// GET /providers - public, read by the login UI on first paint
	r.Mux.Handle("GET /v1/oauth2/providers",
		httpx.Chain(http.HandlerFunc(authorizeHandler.HandleProviders),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)

	consentHandler := &ConsentHandler{
		Orchestrator: r.Orchestrator,
		Users:        r.UserService,
		Tokens:       r.TokenService,
	}
	r.Mux.Handle("POST /v1/oauth2/consent",
		httpx.Chain(consentHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// Consent withdrawal is an account operation, bearer required
	r.Mux.Handle("DELETE /v1/consents/{clientId}",
		httpx.Chain(http.HandlerFunc(consentHandler.HandleWithdraw),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// POST /token - strict limit by IP (covers all grant types)
	tokenHandler := &TokenHandler{Tokens: r.TokenService}
	r.Mux.Handle("POST /v1/oauth2/token",
		httpx.Chain(tokenHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	revokeHandler := &RevokeHandler{Tokens: r.TokenService}
	r.Mux.Handle("POST /v1/oauth2/revoke",
		httpx.Chain(revokeHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// GET /jwks.json - public endpoint with high limit
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys.KeySet()),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{
		Orchestrator: r.Orchestrator,
		MFA:          r.MFAEngine,
		Users:        r.UserService,
	}

	// All MFA endpoints act on an open session, not a bearer token, so
	// the limits key on the caller's IP.
	r.Mux.Handle("POST /v1/mfa/issue",
		httpx.Chain(http.HandlerFunc(h.HandleIssue),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Verify is the brute-force target, keep it strict
	r.Mux.Handle("POST /v1/mfa/verify",
		httpx.Chain(http.HandlerFunc(h.HandleVerify),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/mfa/otp/setup",
		httpx.Chain(http.HandlerFunc(h.HandleOTPSetupBegin),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.Mux.Handle("POST /v1/mfa/otp/setup/verify",
		httpx.Chain(http.HandlerFunc(h.HandleOTPSetupVerify),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/mfa/enroll",
		httpx.Chain(http.HandlerFunc(h.HandleEnroll),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerPasskeys() {
	h := &PasskeyHandler{
		Passkeys:     r.PasskeyService,
		Users:        r.UserService,
		Orchestrator: r.Orchestrator,
	}

	// Credential management requires a bearer token
	securedBegin := httpx.Chain(http.HandlerFunc(h.HandleRegisterBegin),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedFinish := httpx.Chain(http.HandlerFunc(h.HandleRegisterFinish),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedList := httpx.Chain(http.HandlerFunc(h.HandleList),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByUser(httpx.LenientLimit),
	)
	securedDelete := httpx.Chain(http.HandlerFunc(h.HandleDelete),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/passkeys/register/begin", securedBegin)
	r.Mux.Handle("POST /v1/passkeys/register/finish", securedFinish)
	r.Mux.Handle("GET /v1/passkeys", securedList)
	r.Mux.Handle("DELETE /v1/passkeys/{id}", securedDelete)

	// Login ceremonies are public, strict by IP
	r.Mux.Handle("POST /v1/passkeys/login/begin",
		httpx.Chain(http.HandlerFunc(h.HandleLoginBegin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/passkeys/login/finish",
		httpx.Chain(http.HandlerFunc(h.HandleLoginFinish),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerUsers() {
	info := &UserInfoHandler{Users: r.UserService}

	securedInfo := httpx.Chain(info,
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("profile:read", "profile"),
		httpx.RateLimitByUser(httpx.LenientLimit),
	)

	r.Mux.Handle("GET /v1/userinfo", securedInfo)

	h := &UsersHandler{Users: r.UserService}

	// Open registration, strict by IP
	r.Mux.Handle("POST /v1/users/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Password rotation re-verifies the current password anyway, but the
	// endpoint is still a guessing surface
	r.Mux.Handle("POST /v1/users/password",
		httpx.Chain(http.HandlerFunc(h.HandleChangePassword),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerKeys() {
	h := &KeysHandler{Rotation: r.KeyRotationService}

	securedRotate := httpx.Chain(http.HandlerFunc(h.HandleRotate),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("keys:write"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedRetire := httpx.Chain(http.HandlerFunc(h.HandleRetire),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("keys:write"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)
	securedList := httpx.Chain(http.HandlerFunc(h.HandleList),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireAnyScope("keys:read", "keys:write"),
		httpx.RateLimitByUser(httpx.ModerateLimit),
	)

	r.Mux.Handle("POST /v1/keys/rotate", securedRotate)
	r.Mux.Handle("POST /v1/keys/{kid}/retire", securedRetire)
	r.Mux.Handle("GET /v1/keys", securedList)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.cache, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
