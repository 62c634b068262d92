package auth

import (
	"context"

	"github.com/platinummonkey/appmesh/pkg/apperr"
	"github.com/platinummonkey/appmesh/pkg/audit"
	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/sirupsen/logrus"
)

// Authorizer authenticates requests by bearer token and checks named
// permissions against the directory.
type Authorizer struct {
	tokens    *TokenService
	directory Directory
	audit     audit.Logger
	logger    logrus.FieldLogger
	metrics   *observability.Metrics
}

// AuthorizerOption configures an Authorizer
type AuthorizerOption func(*Authorizer)

// WithAuditLogger records every decision to logger
func WithAuditLogger(logger audit.Logger) AuthorizerOption {
	return func(a *Authorizer) {
		a.audit = logger
	}
}

// WithLogger sets the authorizer logger
func WithLogger(logger logrus.FieldLogger) AuthorizerOption {
	return func(a *Authorizer) {
		a.logger = logger
	}
}

// WithMetrics counts decisions
func WithMetrics(m *observability.Metrics) AuthorizerOption {
	return func(a *Authorizer) {
		a.metrics = m
	}
}

// NewAuthorizer creates an authorizer reading users from directory
func NewAuthorizer(tokens *TokenService, directory Directory, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		tokens:    tokens,
		directory: directory,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokens == nil {
		a.tokens = NewTokenService()
	}
	if a.audit == nil {
		a.audit = audit.NoOp()
	}
	a.logger = observability.OrDiscard(a.logger)
	return a
}

// Tokens returns the token service used for verification
func (a *Authorizer) Tokens() *TokenService {
	return a.tokens
}

// Directory returns the user directory
func (a *Authorizer) Directory() Directory {
	return a.directory
}

// Identify verifies the bearer token of req and returns the user name.
// With JWT disabled it returns "" and no error. On success the user name is
// added to the request context.
func (a *Authorizer) Identify(req *rest.Request) (string, error) {
	if !a.directory.JWTEnabled() {
		return "", nil
	}

	name, err := a.identify(req)
	if err != nil {
		a.logFor(req).WithError(err).Warn("authentication failed")
		a.metrics.RecordAuthDecision("identify", "rejected")
		a.record(req, audit.EventTypeAuthTokenValidateFail, audit.EventStatusFailure, name, "", err)
		return "", err
	}

	req.WithContext(contextkeys.WithUserName(req.Context(), name))
	a.logFor(req).WithField("user", name).Debug("token verified")
	a.metrics.RecordAuthDecision("identify", "ok")
	a.record(req, audit.EventTypeAuthTokenValidate, audit.EventStatusSuccess, name, "", nil)
	return name, nil
}

func (a *Authorizer) identify(req *rest.Request) (string, error) {
	decoded, err := a.tokens.Decode(a.tokens.ExtractBearer(req.Headers))
	if err != nil {
		return "", err
	}

	name := decoded.Name()
	if name == "" {
		return "", apperr.New(apperr.KindMalformedToken, "No user info in token")
	}

	user, err := a.directory.Lookup(req.Context(), name)
	if err != nil {
		return name, err
	}
	if user.Locked {
		return name, apperr.New(apperr.KindUserLocked, "User <%s> was locked", name)
	}

	if err := a.tokens.Verify(decoded, name, user.Key); err != nil {
		return name, err
	}
	return name, nil
}

// Authorize verifies the bearer token of req and checks that the user holds
// permission. An empty permission only requires a valid token. With JWT
// disabled every request is authorized.
func (a *Authorizer) Authorize(req *rest.Request, permission string) (bool, error) {
	if !a.directory.JWTEnabled() {
		return true, nil
	}

	name, err := a.Identify(req)
	if err != nil {
		return false, err
	}
	if permission == "" || name == "" {
		return true, nil
	}

	perms, err := a.directory.PermissionsOf(req.Context(), name)
	if err != nil {
		a.logFor(req).WithError(err).WithField("user", name).Warn("permission lookup failed")
		a.metrics.RecordAuthDecision("authorize", "error")
		return false, err
	}

	if !perms.Has(permission) {
		err := apperr.New(apperr.KindPermissionDenied, "No permission <%s> for user <%s>", permission, name)
		a.logFor(req).WithField("user", name).WithField("permission", permission).Warn(err.Error())
		a.metrics.RecordAuthDecision("authorize", "denied")
		a.record(req, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied, name, permission, err)
		return false, err
	}

	a.logFor(req).WithField("user", name).WithField("permission", permission).Debug("authentication success")
	a.metrics.RecordAuthDecision("authorize", "granted")
	a.record(req, audit.EventTypeAuthzPermissionCheck, audit.EventStatusSuccess, name, permission, nil)
	return true, nil
}

// UserName returns the name claim of the bearer token without verifying it.
func (a *Authorizer) UserName(req *rest.Request) (string, error) {
	if !a.directory.JWTEnabled() {
		return "", nil
	}

	decoded, err := a.tokens.Decode(a.tokens.ExtractBearer(req.Headers))
	if err != nil {
		return "", err
	}
	if decoded.Name() == "" {
		return "", apperr.New(apperr.KindMalformedToken, "No user info in token")
	}
	return decoded.Name(), nil
}

func (a *Authorizer) logFor(req *rest.Request) logrus.FieldLogger {
	logger := a.logger
	if _, ok := req.Context().Value(contextkeys.LoggerKey).(logrus.FieldLogger); ok {
		logger = observability.FromContext(req.Context())
	}
	return logger.WithField("remote_address", req.RemoteAddress)
}

func (a *Authorizer) record(req *rest.Request, eventType audit.EventType, status audit.EventStatus, name, permission string, err error) {
	ctx := req.Context()
	event := audit.NewEvent(ctx, eventType, status)
	if name != "" {
		event.Username = name
	}
	event.Permission = permission
	event.RemoteAddress = req.RemoteAddress
	event.Method = req.Method
	event.Path = req.RelativeURI
	if err != nil {
		event.ErrorMessage = err.Error()
	}

	if logErr := a.audit.Log(ctx, event); logErr != nil {
		a.logFor(req).WithError(logErr).Error("failed to write audit event")
	}
}

// Audit records an event outside the token checks, such as a login.
func (a *Authorizer) Audit(ctx context.Context, event *audit.Event) {
	if err := a.audit.Log(ctx, event); err != nil {
		a.logger.WithError(err).Error("failed to write audit event")
	}
}
