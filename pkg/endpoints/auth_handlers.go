package endpoints

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/appmesh/pkg/apperr"
	"github.com/platinummonkey/appmesh/pkg/audit"
	"github.com/platinummonkey/appmesh/pkg/auth"
	"github.com/platinummonkey/appmesh/pkg/middleware"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
)

// Routes served by AuthHandlers
const (
	LoginPath           = "/appmesh/login"
	AuthPath            = "/appmesh/auth"
	SelfPermissionsPath = "/appmesh/user/self/permissions"
)

// Request headers read by the handlers
const (
	ExpireSecondsHeader  = "Expire-Seconds"
	AuthPermissionHeader = "Auth-Permission"
)

// DefaultTokenTTL is the lifetime of a token when the login does not ask
// for one.
const DefaultTokenTTL = 7 * 24 * time.Hour

// LoginResponse is the reply to a successful login
type LoginResponse struct {
	AccessToken   string  `json:"access_token"`
	TokenType     string  `json:"token_type"`
	ExpireTime    int64   `json:"expire_time"`
	ExpireSeconds int64   `json:"expire_seconds"`
	Profile       Profile `json:"profile"`
}

// Profile describes the logged in user
type Profile struct {
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Group string   `json:"group,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AuthResponse is the reply to a successful token check
type AuthResponse struct {
	Success    bool   `json:"success"`
	User       string `json:"user"`
	Permission string `json:"permission,omitempty"`
}

// AuthHandlers serves login and token checks on top of the authorizer
type AuthHandlers struct {
	authorizer *auth.Authorizer
	guard      *middleware.LoginGuard
	defaultTTL time.Duration
	maxTTL     time.Duration
	metrics    *observability.Metrics
	proxies    middleware.TrustedProxies
}

// Option configures AuthHandlers
type Option func(*AuthHandlers)

// WithLoginGuard throttles login attempts
func WithLoginGuard(guard *middleware.LoginGuard) Option {
	return func(h *AuthHandlers) {
		h.guard = guard
	}
}

// WithTokenTTL sets the default lifetime and the longest lifetime a client
// may request. A zero max leaves requests unbounded.
func WithTokenTTL(defaultTTL, maxTTL time.Duration) Option {
	return func(h *AuthHandlers) {
		h.defaultTTL = defaultTTL
		h.maxTTL = maxTTL
	}
}

// WithMetrics counts issued tokens
func WithMetrics(m *observability.Metrics) Option {
	return func(h *AuthHandlers) {
		h.metrics = m
	}
}

// WithTrustedProxies lets the listed peers name the client address for
// login throttling through X-Forwarded-For or X-Real-IP
func WithTrustedProxies(proxies middleware.TrustedProxies) Option {
	return func(h *AuthHandlers) {
		h.proxies = proxies
	}
}

// NewAuthHandlers creates the login and token check handlers
func NewAuthHandlers(authorizer *auth.Authorizer, opts ...Option) *AuthHandlers {
	h := &AuthHandlers{
		authorizer: authorizer,
		defaultTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.defaultTTL <= 0 {
		h.defaultTTL = DefaultTokenTTL
	}
	return h
}

// RegisterRoutes binds the handlers on d
func (h *AuthHandlers) RegisterRoutes(d *rest.Dispatcher) {
	d.Bind(http.MethodPost, LoginPath, h.login)
	d.Bind(http.MethodPost, AuthPath, h.verify)
	d.Bind(http.MethodGet, SelfPermissionsPath, h.selfPermissions)
}

// login handles POST /appmesh/login with HTTP basic credentials
func (h *AuthHandlers) login(req *rest.Request) error {
	ctx := req.Context()
	logger := observability.FromContext(ctx)

	if !h.authorizer.Directory().JWTEnabled() {
		return apperr.New(apperr.KindInvalidArgument, "JWT authentication is disabled")
	}

	name, password, ok := (&http.Request{Header: req.Headers}).BasicAuth()
	if !ok || name == "" {
		return apperr.New(apperr.KindInvalidArgument, "Incorrect authentication info")
	}

	ttl, err := h.requestedTTL(req)
	if err != nil {
		return err
	}

	if err := h.guard.Check(ctx, name, h.proxies.ClientIP(req.Headers, req.RemoteAddress)); err != nil {
		h.auditLogin(req, name, audit.EventTypeAuthLoginFailed, audit.EventStatusDenied, err)
		return err
	}

	user, err := h.authorizer.Directory().Lookup(ctx, name)
	if err != nil {
		h.auditLogin(req, name, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure, err)
		return err
	}
	if user.Locked {
		err := apperr.New(apperr.KindUserLocked, "User <%s> was locked", name)
		h.auditLogin(req, name, audit.EventTypeAuthLoginFailed, audit.EventStatusDenied, err)
		return err
	}
	if subtle.ConstantTimeCompare([]byte(password), user.Key) != 1 {
		err := apperr.New(apperr.KindTokenRejected, "Incorrect user password")
		h.auditLogin(req, name, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure, err)
		return err
	}

	token, err := h.authorizer.Tokens().Issue(user.Name, user.Key, ttl)
	if err != nil {
		return err
	}
	decoded, err := h.authorizer.Tokens().Decode(token)
	if err != nil {
		return err
	}
	expireTime := decoded.Claims().ExpiresAt.Time

	h.metrics.RecordTokenIssued()
	h.auditLogin(req, name, audit.EventTypeAuthLogin, audit.EventStatusSuccess, nil)
	h.auditLogin(req, name, audit.EventTypeAuthTokenCreate, audit.EventStatusSuccess, nil)
	logger.WithField("user", name).WithField("expire_seconds", int64(ttl.Seconds())).Info("user logged in")

	return req.ReplyJSON(http.StatusOK, LoginResponse{
		AccessToken:   token,
		TokenType:     "Bearer",
		ExpireTime:    expireTime.Unix(),
		ExpireSeconds: int64(ttl.Seconds()),
		Profile: Profile{
			Name:  user.Name,
			Email: user.Email,
			Group: user.Group,
			Roles: user.Roles,
		},
	})
}

func (h *AuthHandlers) requestedTTL(req *rest.Request) (time.Duration, error) {
	value := req.Header(ExpireSecondsHeader)
	if value == "" {
		return h.defaultTTL, nil
	}

	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds <= 0 {
		return 0, apperr.New(apperr.KindInvalidArgument, "Invalid %s header <%s>", ExpireSecondsHeader, value)
	}

	ttl := time.Duration(seconds) * time.Second
	if h.maxTTL > 0 && ttl > h.maxTTL {
		ttl = h.maxTTL
	}
	return ttl, nil
}

// verify handles POST /appmesh/auth. The optional Auth-Permission header
// names a permission the caller must hold.
func (h *AuthHandlers) verify(req *rest.Request) error {
	permission := req.Header(AuthPermissionHeader)

	if _, err := h.authorizer.Authorize(req, permission); err != nil {
		return err
	}

	user, err := h.authorizer.UserName(req)
	if err != nil {
		return err
	}

	return req.ReplyJSON(http.StatusOK, AuthResponse{
		Success:    true,
		User:       user,
		Permission: permission,
	})
}

// selfPermissions handles GET /appmesh/user/self/permissions
func (h *AuthHandlers) selfPermissions(req *rest.Request) error {
	name, err := h.authorizer.Identify(req)
	if err != nil {
		return err
	}
	if name == "" {
		return req.ReplyJSON(http.StatusOK, []string{})
	}

	perms, err := h.authorizer.Directory().PermissionsOf(req.Context(), name)
	if err != nil {
		return err
	}
	return req.ReplyJSON(http.StatusOK, perms.List())
}

func (h *AuthHandlers) auditLogin(req *rest.Request, name string, eventType audit.EventType, status audit.EventStatus, err error) {
	event := audit.NewEvent(req.Context(), eventType, status)
	event.Username = name
	event.RemoteAddress = req.RemoteAddress
	event.Method = req.Method
	event.Path = req.RelativeURI
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	h.authorizer.Audit(req.Context(), event)
}
