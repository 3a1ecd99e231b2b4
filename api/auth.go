/*
auth.go - Bearer token identity

PURPOSE:
  Resolves the calling user from an HS256 JWT. The token's subject is the
  user id. Identity is issued elsewhere; this service only verifies it and
  provisions a points account the first time it sees a subject.

PROVISIONING:
  EnsureAccount is idempotent but costs a transaction, so subjects already
  provisioned by this process are remembered in a bounded LRU cache.

ROLES:
  role = "admin"   unlocks /api/admin/*.
  role = "wallet"  the payment service; the only caller besides admin
                   that may credit purchases. Wallet tokens are service
                   principals and get no points account.
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru"
	"github.com/hypehub/task-escrow/escrow"
)

const (
	RoleAdmin  = "admin"
	RoleWallet = "wallet"
)

// Claims is the token payload.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	UserID escrow.UserID
	Name   string
	Role   string
}

// HasRole reports whether the identity carries one of roles.
func (i Identity) HasRole(roles ...string) bool {
	for _, role := range roles {
		if i.Role == role {
			return true
		}
	}
	return false
}

type contextKey string

const identityKey = contextKey("identity")

// CurrentUser returns the caller set by Authenticator.Middleware.
func CurrentUser(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// accountProvisioner is the part of the engine the authenticator needs.
type accountProvisioner interface {
	EnsureAccount(ctx context.Context, id escrow.UserID) (escrow.User, bool, error)
}

// Authenticator verifies tokens and provisions accounts.
type Authenticator struct {
	// Log receives provisioning failures. Defaults to slog.Default().
	Log *slog.Logger

	secret      []byte
	issuer      string
	accounts    accountProvisioner
	provisioned *lru.Cache
}

// NewAuthenticator creates an authenticator. cacheSize bounds the cache of
// provisioned subjects.
func NewAuthenticator(secret, issuer string, accounts accountProvisioner, cacheSize int) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Authenticator{
		Log:         slog.Default(),
		secret:      []byte(secret),
		issuer:      issuer,
		accounts:    accounts,
		provisioned: cache,
	}, nil
}

// IssueToken mints a token. Used by the CLI for development and by tests.
func (a *Authenticator) IssueToken(sub escrow.UserID, name, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(sub),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token string.
func (a *Authenticator) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("token has no subject")
	}
	return Identity{UserID: escrow.UserID(claims.Subject), Name: claims.Name, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeProblem(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token", Code: "unauthorized"})
			return
		}
		id, err := a.Verify(raw)
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "unauthorized", Details: err.Error()})
			return
		}
		if id.Role != RoleWallet {
			if err := a.provision(r.Context(), id.UserID); err != nil {
				writeError(w, r, a.Log, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func (a *Authenticator) provision(ctx context.Context, id escrow.UserID) error {
	if a.provisioned.Contains(id) {
		return nil
	}
	if _, _, err := a.accounts.EnsureAccount(ctx, id); err != nil {
		return err
	}
	a.provisioned.Add(id, struct{}{})
	return nil
}

// RequireAdmin allows only callers with the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

// RequireRole allows only callers carrying one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	msg := strings.Join(roles, " or ") + " role required"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := CurrentUser(r.Context())
			if !ok || !id.HasRole(roles...) {
				writeProblem(w, http.StatusForbidden, ErrorResponse{Error: msg, Code: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
