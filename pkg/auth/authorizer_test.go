package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/platinummonkey/appmesh/pkg/apperr"
	"github.com/platinummonkey/appmesh/pkg/audit"
	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/platinummonkey/appmesh/pkg/rest/resttest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAudit struct {
	events []*audit.Event
}

func (m *memoryAudit) Log(ctx context.Context, event *audit.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memoryAudit) Close() error { return nil }

func (m *memoryAudit) last() *audit.Event {
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

type testDirectory struct {
	users      map[string]*User
	perms      map[string]PermissionSet
	jwtEnabled bool
}

func newTestDirectory() *testDirectory {
	return &testDirectory{
		users: map[string]*User{
			"mesh":   {Name: "mesh", Key: []byte("mesh-key")},
			"locked": {Name: "locked", Key: []byte("locked-key"), Locked: true},
		},
		perms: map[string]PermissionSet{
			"mesh": NewPermissionSet("app-view", "app-control"),
		},
		jwtEnabled: true,
	}
}

func (d *testDirectory) funcs() DirectoryFuncs {
	return DirectoryFuncs{
		LookupFunc: func(ctx context.Context, name string) (*User, error) {
			user, ok := d.users[name]
			if !ok {
				return nil, UnknownUser(name)
			}
			return user, nil
		},
		PermissionsFunc: func(ctx context.Context, name string) (PermissionSet, error) {
			return d.perms[name], nil
		},
		JWTEnabledFunc: func() bool { return d.jwtEnabled },
	}
}

type authorizerFixture struct {
	authorizer *Authorizer
	dir        *testDirectory
	tokens     *TokenService
	audit      *memoryAudit
	metrics    *observability.Metrics
}

func newAuthorizerFixture() *authorizerFixture {
	dir := newTestDirectory()
	tokens := NewTokenService()
	events := &memoryAudit{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return &authorizerFixture{
		authorizer: NewAuthorizer(tokens, dir.funcs(), WithAuditLogger(events), WithMetrics(metrics)),
		dir:        dir,
		tokens:     tokens,
		audit:      events,
		metrics:    metrics,
	}
}

func (f *authorizerFixture) request(t *testing.T, user string) *rest.Request {
	t.Helper()
	req, _ := resttest.NewRequest(http.MethodGet, "/appmesh/applications")
	if user != "" {
		token, err := f.tokens.Issue(user, f.dir.users[user].Key, time.Hour)
		require.NoError(t, err)
		req.Headers.Set(AuthorizationHeader, BearerPrefix+token)
	}
	return req
}

func TestAuthorizer_HappyPath(t *testing.T) {
	f := newAuthorizerFixture()
	req := f.request(t, "mesh")

	ok, err := f.authorizer.Authorize(req, "app-view")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "mesh", contextkeys.GetUserName(req.Context()))
	require.Len(t, f.audit.events, 2)
	assert.Equal(t, audit.EventTypeAuthTokenValidate, f.audit.events[0].EventType)
	assert.Equal(t, audit.EventTypeAuthzPermissionCheck, f.audit.last().EventType)
	assert.Equal(t, "app-view", f.audit.last().Permission)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthDecisionsTotal.WithLabelValues("authorize", "granted")))
}

func TestAuthorizer_Identify(t *testing.T) {
	f := newAuthorizerFixture()

	name, err := f.authorizer.Identify(f.request(t, "mesh"))
	require.NoError(t, err)
	assert.Equal(t, "mesh", name)
}

func TestAuthorizer_EmptyPermission(t *testing.T) {
	f := newAuthorizerFixture()

	ok, err := f.authorizer.Authorize(f.request(t, "mesh"), "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorizer_MissingPermission(t *testing.T) {
	f := newAuthorizerFixture()

	ok, err := f.authorizer.Authorize(f.request(t, "mesh"), "app-delete")

	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))
	assert.Equal(t, "No permission <app-delete> for user <mesh>", err.Error())
	assert.Equal(t, audit.EventTypeAuthzAccessDenied, f.audit.last().EventType)
	assert.Equal(t, audit.EventStatusDenied, f.audit.last().Status)
}

func TestAuthorizer_LockedUser(t *testing.T) {
	f := newAuthorizerFixture()

	ok, err := f.authorizer.Authorize(f.request(t, "locked"), "")

	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUserLocked))
	assert.Equal(t, "User <locked> was locked", err.Error())
	assert.Equal(t, audit.EventTypeAuthTokenValidateFail, f.audit.last().EventType)
	assert.Equal(t, "locked", f.audit.last().Username)
}

func TestAuthorizer_KeyRotation(t *testing.T) {
	f := newAuthorizerFixture()
	req := f.request(t, "mesh")

	f.dir.users["mesh"] = &User{Name: "mesh", Key: []byte("rotated")}

	_, err := f.authorizer.Identify(req)
	assert.True(t, errors.Is(err, apperr.ErrTokenRejected))
}

func TestAuthorizer_UnknownUser(t *testing.T) {
	f := newAuthorizerFixture()
	req, _ := resttest.NewRequest(http.MethodGet, "/x")
	token, err := f.tokens.Issue("ghost", []byte("k"), time.Hour)
	require.NoError(t, err)
	req.Headers.Set(AuthorizationHeader, BearerPrefix+token)

	_, err = f.authorizer.Identify(req)
	assert.True(t, errors.Is(err, apperr.ErrUnknownUser))
}

func TestAuthorizer_MalformedTokens(t *testing.T) {
	f := newAuthorizerFixture()

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "garbage", header: "Bearer garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := resttest.NewRequest(http.MethodGet, "/x")
			if tt.header != "" {
				req.Headers.Set(AuthorizationHeader, tt.header)
			}
			_, err := f.authorizer.Authorize(req, "app-view")
			assert.True(t, errors.Is(err, apperr.ErrMalformedToken))
		})
	}

	t.Run("no name claim", func(t *testing.T) {
		req, _ := resttest.NewRequest(http.MethodGet, "/x")
		req.Headers.Set(AuthorizationHeader, BearerPrefix+noNameToken(t))

		_, err := f.authorizer.Identify(req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrMalformedToken))
		assert.Equal(t, "No user info in token", err.Error())
	})
}

func TestAuthorizer_JWTDisabled(t *testing.T) {
	f := newAuthorizerFixture()
	f.dir.jwtEnabled = false

	for _, header := range []string{"", "Bearer garbage", "Bearer " + noNameToken(t)} {
		req, _ := resttest.NewRequest(http.MethodGet, "/x")
		if header != "" {
			req.Headers.Set(AuthorizationHeader, header)
		}

		ok, err := f.authorizer.Authorize(req, "anything")
		assert.NoError(t, err)
		assert.True(t, ok)

		name, err := f.authorizer.Identify(req)
		assert.NoError(t, err)
		assert.Empty(t, name)

		name, err = f.authorizer.UserName(req)
		assert.NoError(t, err)
		assert.Empty(t, name)
	}
	assert.Empty(t, f.audit.events)
}

func TestAuthorizer_UserName(t *testing.T) {
	f := newAuthorizerFixture()

	req := f.request(t, "mesh")
	f.dir.users["mesh"].Key = []byte("rotated")

	name, err := f.authorizer.UserName(req)
	require.NoError(t, err)
	assert.Equal(t, "mesh", name)

	req, _ = resttest.NewRequest(http.MethodGet, "/x")
	_, err = f.authorizer.UserName(req)
	assert.Error(t, err)
}

func TestAuthorizer_ThroughDispatcher(t *testing.T) {
	f := newAuthorizerFixture()
	d := rest.NewDispatcher()
	d.Bind(http.MethodDelete, "/appmesh/app/[^/]+", func(req *rest.Request) error {
		if _, err := f.authorizer.Authorize(req, "app-delete"); err != nil {
			return err
		}
		return req.Reply(http.StatusOK, "deleted")
	})

	token, err := f.tokens.Issue("mesh", f.dir.users["mesh"].Key, time.Hour)
	require.NoError(t, err)
	req, rec := resttest.NewRequest(http.MethodDelete, "/appmesh/app/sleep", AuthorizationHeader, BearerPrefix+token)

	d.Dispatch(req)

	require.Equal(t, 1, rec.Count())
	assert.Equal(t, http.StatusBadRequest, rec.Last().Status)
	assert.Equal(t, "No permission <app-delete> for user <mesh>", rec.Last().Body)
}

func noNameToken(t *testing.T) string {
	t.Helper()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := signClaims(claims, []byte("k"))
	require.NoError(t, err)
	return signed
}
