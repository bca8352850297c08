package transport

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/internal/config"
	"github.com/axleworks/worksync/model"
)

// Authenticator validates bearer tokens on incoming requests. Tokens are
// HMAC-signed JWTs verified against a shared secret; issuer, audience, and
// expiry are all enforced.
type Authenticator struct {
	cfg    config.IdentityConfig
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator builds an Authenticator from identity configuration.
// The signing secret is read from the environment variable named by
// cfg.SecretEnv.
func NewAuthenticator(cfg config.IdentityConfig, logger *zap.Logger) (*Authenticator, error) {
	a := &Authenticator{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return a, nil
	}
	secret := os.Getenv(cfg.SecretEnv)
	if secret == "" {
		return nil, errors.New("auth: signing secret environment variable " + cfg.SecretEnv + " is empty")
	}
	a.secret = []byte(secret)
	return a, nil
}

// Middleware returns HTTP middleware that rejects requests without a valid
// bearer token. When identity is disabled the middleware passes requests
// through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			WriteError(w, model.NewUnauthorizedError("missing bearer token"))
			return
		}

		claims, err := a.verify(raw)
		if err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			WriteError(w, classifyJWTError(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// verify parses and validates a raw JWT, returning its claims.
func (a *Authenticator) verify(raw string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods(a.cfg.Algorithms),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithAudience(a.cfg.Audience),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return map[string]any(claims), nil
}

// classifyJWTError maps jwt validation failures to API errors.
func classifyJWTError(err error) *model.ErrorEnvelope {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return model.NewUnauthorizedError("token expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return model.NewUnauthorizedError("invalid token issuer")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return model.NewUnauthorizedError("invalid token audience")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return model.NewUnauthorizedError("invalid token signature")
	default:
		return model.NewUnauthorizedError("invalid token")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
