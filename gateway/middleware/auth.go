package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// CallerHeader names the caller when authentication is disabled. It is
// ignored whenever tokens are enforced.
const CallerHeader = "X-Caller-Address"

// AuthConfig configures bearer token verification. Issuer and Audience are
// only enforced when set.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeyCaller contextKey = "gateway.caller"
	ContextKeyScopes contextKey = "gateway.scopes"
)

var (
	errInvalidSubject  = errors.New("subject is not an address")
	errSecretNotLoaded = errors.New("auth secret not configured")
	hmacSigningMethods = []string{"HS256", "HS384", "HS512"}
)

// scopeList accepts the scope claim either as a space separated string or as
// a JSON array.
type scopeList []string

func (s *scopeList) UnmarshalJSON(raw []byte) error {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		*s = strings.Fields(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return fmt.Errorf("scope claim: %w", err)
	}
	*s = many
	return nil
}

func (s scopeList) covers(required []string) bool {
	for _, want := range required {
		if !slices.Contains(s, want) {
			return false
		}
	}
	return true
}

type callerClaims struct {
	jwt.RegisteredClaims
	Scope scopeList `json:"scope,omitempty"`
}

// caller returns the subject as a non-zero account address.
func (c *callerClaims) caller() (common.Address, error) {
	sub := strings.TrimSpace(c.Subject)
	if !common.IsHexAddress(sub) {
		return common.Address{}, errInvalidSubject
	}
	addr := common.HexToAddress(sub)
	if addr == (common.Address{}) {
		return common.Address{}, errInvalidSubject
	}
	return addr, nil
}

// Authenticator resolves the calling account from an HMAC signed bearer
// token whose subject is the caller's hex address.
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
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(hmacSigningMethods),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With("component", "gateway.auth"),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser: jwt.NewParser(opts...),
	}
}

// Middleware authenticates every request and requires the listed scopes.
// With authentication disabled the caller comes from CallerHeader.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				ctx := r.Context()
				if raw := strings.TrimSpace(r.Header.Get(CallerHeader)); common.IsHexAddress(raw) {
					ctx = WithCaller(ctx, common.HexToAddress(raw))
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			bearer, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.verify(bearer)
			if err != nil {
				a.logger.Warn("bearer token rejected", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			caller, err := claims.caller()
			if err != nil {
				a.logger.Warn("bearer token rejected", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !claims.Scope.covers(requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := WithCaller(r.Context(), caller)
			ctx = context.WithValue(ctx, ContextKeyScopes, []string(claims.Scope))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCaller attaches the authenticated caller to ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// CallerFromContext returns the caller resolved by the Authenticator.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).(common.Address)
	return caller, ok && caller != (common.Address{})
}

func (a *Authenticator) verify(bearer string) (*callerClaims, error) {
	if len(a.secret) == 0 {
		return nil, errSecretNotLoaded
	}
	claims := new(callerClaims)
	if _, err := a.parser.ParseWithClaims(bearer, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, err
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
