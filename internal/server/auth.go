package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"hubtrack/internal/domain"
	"hubtrack/internal/engine"
	"hubtrack/internal/identity"
)

// SessionName is the signed cookie holding a signed-in principal.
const SessionName = "hubtrack-session"

const (
	sessionKeyUID   = "uid"
	sessionKeyName  = "name"
	sessionKeyEmail = "email"
)

type AuthConfig struct {
	Verifier identity.Verifier
	// Sessions enables cookie sign-in. It may be nil.
	Sessions *sessions.CookieStore
	// DevLogin enables POST /auth/dev/login, which mints HS256 tokens.
	DevLogin  bool
	JWTSecret string
	Issuer    string
}

// NewSessionStore derives a cookie signing key from secret.
func NewSessionStore(secret string, secure bool) *sessions.CookieStore {
	key := sha256.Sum256([]byte(secret))
	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Principal is the authenticated caller of a request.
type Principal struct {
	domain.Principal
	Source string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func isPublicPath(basePath, p string) bool {
	switch p {
	case path.Join(basePath, "health"),
		path.Join(basePath, "notify"),
		path.Join(basePath, "auth/dev/login"),
		path.Join(basePath, "auth/session"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "docs"):
		return true
	}
	return false
}

func newAuthMiddleware(basePath string, cfg AuthConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	subscribePath := path.Join(basePath, "subscribe")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || isPublicPath(basePath, req.URL.Path) {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			token := ""
			if authz != "" {
				t, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				token = t
			} else if req.URL.Path == subscribePath {
				// Browsers cannot set headers on a WebSocket handshake.
				token = strings.TrimSpace(req.URL.Query().Get("access_token"))
			}

			if token != "" {
				p, err := cfg.Verifier.Verify(req.Context(), token)
				if err != nil {
					logger.Debug("token rejected", zap.Error(err))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{Principal: p, Source: "token"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			if p, ok := sessionPrincipal(cfg.Sessions, req); ok {
				ctx := withPrincipal(req.Context(), Principal{Principal: p, Source: "session"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func sessionPrincipal(store *sessions.CookieStore, req *http.Request) (domain.Principal, bool) {
	if store == nil {
		return domain.Principal{}, false
	}
	sess, err := store.Get(req, SessionName)
	if err != nil || sess.IsNew {
		return domain.Principal{}, false
	}
	uid, _ := sess.Values[sessionKeyUID].(string)
	if uid == "" {
		return domain.Principal{}, false
	}
	name, _ := sess.Values[sessionKeyName].(string)
	email, _ := sess.Values[sessionKeyEmail].(string)
	return domain.Principal{UID: uid, DisplayName: name, Email: email}, true
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	writeJSON(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// registerSession exchanges an identity token for a session cookie and
// clears it again. It needs the raw ResponseWriter, so it sits on the router.
func registerSession(r chi.Router, basePath string, cfg AuthConfig, logger *zap.Logger) {
	sessionPath := path.Join(basePath, "auth/session")
	r.Post(sessionPath, func(w http.ResponseWriter, req *http.Request) {
		if cfg.Sessions == nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "session sign-in disabled", nil))
			return
		}
		var body SessionRequest
		data, err := io.ReadAll(io.LimitReader(req.Body, 64<<10))
		if err == nil {
			err = json.Unmarshal(data, &body)
		}
		if err != nil || strings.TrimSpace(body.Token) == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "token required", nil))
			return
		}
		p, err := cfg.Verifier.Verify(req.Context(), body.Token)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			return
		}
		sess, _ := cfg.Sessions.New(req, SessionName)
		sess.Values[sessionKeyUID] = p.UID
		sess.Values[sessionKeyName] = p.DisplayName
		sess.Values[sessionKeyEmail] = p.Email
		if err := sess.Save(req, w); err != nil {
			logger.Error("save session failed", zap.Error(err))
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
	r.Delete(sessionPath, func(w http.ResponseWriter, req *http.Request) {
		if cfg.Sessions != nil {
			sess, _ := cfg.Sessions.New(req, SessionName)
			sess.Options.MaxAge = -1
			if err := sess.Save(req, w); err != nil {
				logger.Warn("clear session failed", zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			UID:         principal.UID,
			DisplayName: principal.DisplayName,
			Email:       principal.Email,
			Label:       principal.DisplayLabel(),
			Authorized:  e.Authorized(principal.Principal),
			Source:      principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint an identity token for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !cfg.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		uid := strings.TrimSpace(input.Body.UID)
		if uid == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "uid is required", nil)
		}
		token, err := identity.MintDevToken([]byte(cfg.JWTSecret), cfg.Issuer, domain.Principal{
			UID:         uid,
			DisplayName: strings.TrimSpace(input.Body.DisplayName),
			Email:       strings.TrimSpace(input.Body.Email),
		}, 0, time.Now())
		if err != nil {
			return nil, handleError(errors.Join(errors.New("mint token"), err))
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
