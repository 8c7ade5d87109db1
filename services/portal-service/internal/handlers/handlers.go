package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fitflowhq/fitflow/libs/auth"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/gate"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/readmodel"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/sessions"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/storage"
)

type Handler struct {
	repo          *storage.Repository
	gate          *gate.Gate
	sessions      *sessions.Store
	views         *readmodel.Repository
	logger        *slog.Logger
	jwtSecret     string
	secureCookies bool
}

type Config struct {
	JWTSecret     string
	SecureCookies bool
}

func New(repo *storage.Repository, sessionStore *sessions.Store, views *readmodel.Repository, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{
		repo: repo,
		gate: &gate.Gate{
			Students: repo,
			Workouts: repo,
			Sessions: sessionStore,
		},
		sessions:      sessionStore,
		views:         views,
		logger:        logger,
		jwtSecret:     cfg.JWTSecret,
		secureCookies: cfg.SecureCookies,
	}
}

func portalCookieName(studentID string) string  { return "portal-session-" + studentID }
func workoutCookieName(workoutID string) string { return "workout_auth_" + workoutID }
func sharedCookieName(workoutID string) string  { return "workout_access_" + workoutID }

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, name, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// denyAccess is the single response for every denial. Not-found, wrong
// password and missing session are indistinguishable to the caller.
func (h *Handler) denyAccess(w http.ResponseWriter, r *http.Request, d gate.Decision, subject string) {
	h.logger.Info("access denied",
		"reason", string(d.Reason),
		"subject", subject,
		"path", r.URL.Path,
	)
	http.Error(w, "access denied", http.StatusForbidden)
}

// trainerClaims returns verified claims when the request carries a trainer
// JWT, nil otherwise. Trainers viewing their own students bypass the gates.
func (h *Handler) trainerClaims(r *http.Request) *auth.TrainerClaims {
	claims, err := auth.TrainerFromRequest(r, h.jwtSecret)
	if err != nil {
		return nil
	}
	return claims
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
