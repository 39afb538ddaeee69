package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig configures HMAC-signed bearer tokens. Issuer and Audience are
// only enforced when set.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeyToken   contextKey = "validatord.token"
	ContextKeyScopes  contextKey = "validatord.scopes"
	ContextKeySubject contextKey = "validatord.subject"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errNoSecret      = errors.New("auth secret not configured")
	errUnexpectedAlg = errors.New("unexpected signing method")
)

// Authenticator checks bearer tokens and scopes on privileged routes.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

// Enabled reports whether bearer tokens are enforced.
func (a *Authenticator) Enabled() bool { return a != nil && a.cfg.Enabled }

// Middleware rejects requests without a valid token carrying every required
// scope. When auth is disabled requests pass through untouched.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			raw, claims, err := a.authenticate(r)
			if err != nil {
				if !errors.Is(err, errMissingToken) {
					a.logger.WarnContext(r.Context(), "auth: token rejected",
						slog.String("path", r.URL.Path),
						slog.String("request_id", RequestIDFromContext(r.Context())),
						slog.Any("error", err))
				}
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if missing := missingScopes(scopes, requiredScopes); len(missing) > 0 {
				http.Error(w, "insufficient scope: "+strings.Join(missing, " "), http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, raw)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			if sub, err := claims.GetSubject(); err == nil && sub != "" {
				ctx = context.WithValue(ctx, ContextKeySubject, sub)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (string, jwt.MapClaims, error) {
	raw := extractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		return "", nil, errMissingToken
	}
	if len(a.secret) == 0 {
		return "", nil, errNoSecret
	}
	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedAlg
		}
		return a.secret, nil
	})
	if err != nil {
		return "", nil, errors.Join(errors.New("invalid token"), err)
	}
	return raw, claims, nil
}

// SubjectFromContext returns the authenticated token subject, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(ContextKeySubject).(string)
	return sub, ok && sub != ""
}

// ScopesFromContext returns the scopes granted to the authenticated token.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

// extractScopes accepts either a space separated string (OAuth style) or a
// JSON array.
func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
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

func missingScopes(granted, required []string) []string {
	set := make(map[string]struct{}, len(granted))
	for _, scope := range granted {
		set[scope] = struct{}{}
	}
	var missing []string
	for _, req := range required {
		if _, ok := set[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
