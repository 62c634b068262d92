package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/platinummonkey/appmesh/pkg/apperr"
)

const (
	// DefaultIssuer is the iss claim of every token
	DefaultIssuer = "appmesh-auth0"
	// AuthorizationHeader carries the bearer token
	AuthorizationHeader = "Authorization"
	// BearerPrefix precedes the token in AuthorizationHeader
	BearerPrefix = "Bearer "
)

var validMethods = []string{jwt.SigningMethodHS256.Alg()}

// Claims are the JWT claims of an access token
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// DecodedToken is a parsed but unverified token
type DecodedToken struct {
	raw    string
	claims *Claims
}

// Name returns the name claim
func (d *DecodedToken) Name() string {
	if d == nil || d.claims == nil {
		return ""
	}
	return d.claims.Name
}

// Claims returns the decoded claims. They are not trusted until Verify succeeds.
func (d *DecodedToken) Claims() *Claims {
	return d.claims
}

// Raw returns the compact serialization
func (d *DecodedToken) Raw() string {
	return d.raw
}

// TokenService issues and verifies HS256 bearer tokens signed with the
// user's own key.
type TokenService struct {
	issuer string
	skew   time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenService
type TokenOption func(*TokenService)

// WithIssuer overrides DefaultIssuer
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		s.issuer = issuer
	}
}

// WithClockSkew tolerates clock differences when checking exp and iat
func WithClockSkew(skew time.Duration) TokenOption {
	return func(s *TokenService) {
		s.skew = skew
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a token service
func NewTokenService(opts ...TokenOption) *TokenService {
	s := &TokenService{
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issuer returns the iss claim used by this service
func (s *TokenService) Issuer() string {
	return s.issuer
}

// Issue creates a token for username valid for ttl, signed with secret.
func (s *TokenService) Issue(username string, secret []byte, ttl time.Duration) (string, error) {
	if username == "" || len(secret) == 0 {
		return "", apperr.New(apperr.KindInvalidArgument, "must provide name and password to generate token")
	}
	if ttl <= 0 {
		return "", apperr.New(apperr.KindInvalidArgument, "token lifetime must be positive")
	}

	now := s.now()
	claims := Claims{
		Name: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindHandler, err, "failed to sign token: %v", err)
	}
	return signed, nil
}

// ExtractBearer returns the token from the authorization header. Surrounding
// whitespace is trimmed and a case-insensitive bearer prefix is removed
// once, together with any spaces after it.
func (s *TokenService) ExtractBearer(headers http.Header) string {
	value := strings.TrimSpace(headers.Get(AuthorizationHeader))
	if len(value) >= len(BearerPrefix) && strings.EqualFold(value[:len(BearerPrefix)], BearerPrefix) {
		value = strings.TrimLeft(value[len(BearerPrefix):], " ")
	}
	return value
}

// Decode parses token without checking its signature or claims.
func (s *TokenService) Decode(token string) (*DecodedToken, error) {
	if token == "" {
		return nil, apperr.New(apperr.KindMalformedToken, "empty token")
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedToken, err, "failed to decode token: %v", err)
	}

	return &DecodedToken{raw: token, claims: claims}, nil
}

// Verify checks the signature of decoded under key together with the
// issuer, expiry and issued-at claims, and that the name claim equals
// expectedName.
func (s *TokenService) Verify(decoded *DecodedToken, expectedName string, key []byte) error {
	if decoded == nil {
		return apperr.New(apperr.KindMalformedToken, "empty token")
	}
	if len(key) == 0 {
		return apperr.New(apperr.KindTokenRejected, "no key for user <%s>", expectedName)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(validMethods),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.skew),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(decoded.raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTokenRejected, err, "failed to verify token: %v", err)
	}

	if claims.Name != expectedName {
		return apperr.New(apperr.KindTokenRejected, "token user <%s> does not match <%s>", claims.Name, expectedName)
	}
	return nil
}
