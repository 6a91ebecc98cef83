package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

type contextKey string

const contextKeyClaims contextKey = "lendingd.claims"

// Role grants access to operator endpoints. Account holders need no role.
type Role string

// Supported roles.
const (
	RoleAdmin  Role = "admin"
	RoleOracle Role = "oracle"
	RoleKeeper Role = "keeper"
)

var allowedRoles = map[Role]struct{}{
	RoleAdmin:  {},
	RoleOracle: {},
	RoleKeeper: {},
}

// Claims is the verified identity attached to a request. The token subject
// is the caller's account address.
type Claims struct {
	Subject string
	Account common.Address
	Roles   []Role
}

// HasRole reports whether the claims carry any of roles.
func (c *Claims) HasRole(roles ...Role) bool {
	if c == nil {
		return false
	}
	for _, held := range c.Roles {
		for _, want := range roles {
			if held == want {
				return true
			}
		}
	}
	return false
}

// Config configures the HMAC bearer token verifier.
type Config struct {
	HMACSecret string
	Issuer     string
	Audience   string
	RoleClaim  string
	ClockSkew  time.Duration
	Now        func() time.Time
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret    []byte
	issuer    string
	audience  string
	roleClaim string
	leeway    time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier for cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return nil, errors.New("auth secret not configured")
	}
	roleClaim := strings.TrimSpace(cfg.RoleClaim)
	if roleClaim == "" {
		roleClaim = "roles"
	}
	return &Verifier{
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(cfg.Issuer),
		audience:  strings.TrimSpace(cfg.Audience),
		roleClaim: roleClaim,
		leeway:    cfg.ClockSkew,
		now:       cfg.Now,
	}, nil
}

// Verify parses token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if v == nil {
		return nil, errors.New("JWT verifier not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(v.leeway))
	}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token validation failed")
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if !common.IsHexAddress(subject) {
		return nil, errors.New("token subject is not an account address")
	}
	out := &Claims{Subject: subject, Account: common.HexToAddress(subject)}
	for _, raw := range extractStrings(claims[v.roleClaim]) {
		role := Role(strings.ToLower(strings.TrimSpace(raw)))
		if _, ok := allowedRoles[role]; ok {
			out.Roles = append(out.Roles, role)
		}
	}
	return out, nil
}

func extractStrings(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Authenticate rejects requests without a valid bearer token and attaches
// the verified claims to the request context.
func (v *Verifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := v.Verify(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// FromContext extracts the claims attached by Authenticate.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	claims, ok := ctx.Value(contextKeyClaims).(*Claims)
	if !ok || claims == nil {
		return nil, errors.New("missing claims in context")
	}
	return claims, nil
}

// RequireRole ensures the authenticated caller holds at least one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if !claims.HasRole(roles...) {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Issue signs an HS256 token for subject. Operators use it to mint service
// credentials; tests use it to build requests.
func Issue(secret, issuer, subject string, roles []Role, ttl time.Duration, now time.Time) (string, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	claims := jwt.MapClaims{
		"sub":   subject,
		"iss":   issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
		"roles": names,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
