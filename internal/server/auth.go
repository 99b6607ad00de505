package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"workgraph/internal/domain"
)

type AuthConfig struct {
	JWTSecret string
	// AllowTeamHeader accepts X-Team-Id / X-Agent-Role without a token.
	AllowTeamHeader bool
	Logger          *slog.Logger
}

// Principal is the authenticated caller. Team identity is asserted by the
// token issuer; the engine only records it.
type Principal struct {
	TeamID    string
	AgentRole string
	Source    string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorFromContext(ctx context.Context) (domain.Actor, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.TeamID != "" {
		return domain.Actor{TeamID: p.TeamID, AgentRole: p.AgentRole}, nil
	}
	return domain.Actor{}, errUnauthorized
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// SignToken mints an HS256 token whose subject is the team id.
func SignToken(secret, teamID, role string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errNoSecret
	}
	if strings.TrimSpace(teamID) == "" {
		return "", errors.New("team id required")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  teamID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

var (
	errNoSecret     = errors.New("jwt secret not configured")
	errNoSubject    = errors.New("token has no subject")
	errUnauthorized = newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	errBadToken     = newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
)

// tokenVerifier checks HS256 bearer tokens against a shared secret.
type tokenVerifier struct {
	key    []byte
	parser *jwt.Parser
}

func newTokenVerifier(secret string) tokenVerifier {
	return tokenVerifier{
		key:    []byte(strings.TrimSpace(secret)),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (v tokenVerifier) verify(raw string) (Principal, error) {
	if len(v.key) == 0 {
		return Principal{}, errNoSecret
	}
	var claims jwtClaims
	if _, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return v.key, nil }); err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errNoSubject
	}
	return Principal{TeamID: claims.Subject, AgentRole: claims.Role, Source: "jwt"}, nil
}

// resolvePrincipal identifies the caller from a bearer token or, when
// allowed, from the team headers. A present but bad Authorization header is
// never downgraded to header auth.
func resolvePrincipal(req *http.Request, v tokenVerifier, cfg AuthConfig) (Principal, huma.StatusError) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, raw, found := strings.Cut(authz, " ")
		raw = strings.TrimSpace(raw)
		if !found || !strings.EqualFold(scheme, "bearer") || raw == "" || strings.ContainsAny(raw, " \t") {
			return Principal{}, errBadToken
		}
		p, err := v.verify(raw)
		if err != nil {
			cfg.logger().Warn("rejected bearer token", "err", err, "path", req.URL.Path)
			return Principal{}, errBadToken
		}
		return p, nil
	}
	team := strings.TrimSpace(req.Header.Get("X-Team-Id"))
	if team == "" || !cfg.AllowTeamHeader {
		return Principal{}, errUnauthorized
	}
	cfg.logger().Debug("team asserted by header", "team", team)
	return Principal{
		TeamID:    team,
		AgentRole: strings.TrimSpace(req.Header.Get("X-Agent-Role")),
		Source:    "header",
	}, nil
}

// newAuthMiddleware guards every route under basePath except the health check
// and the OpenAPI document.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	v := newTokenVerifier(cfg.JWTSecret)
	open := map[string]bool{
		path.Join("/", basePath, "health"):       true,
		path.Join("/", basePath, "openapi.json"): true,
	}
	guarded := func(p string) bool {
		return !open[p] && (basePath == "" || strings.HasPrefix(p, basePath))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !guarded(req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}
			p, apiErr := resolvePrincipal(req, v, cfg)
			if apiErr != nil {
				writeError(w, apiErr)
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
		})
	}
}

func writeError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
