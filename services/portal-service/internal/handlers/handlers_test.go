package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitflowhq/fitflow/services/portal-service/internal/gate"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/sessions"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testHandlerBare() *Handler {
	return &Handler{
		sessions:      sessions.NewStore(nil, 24*time.Hour),
		logger:        slog.New(slog.NewTextHandler(discard{}, nil)),
		secureCookies: true,
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	h := testHandlerBare()
	rec := httptest.NewRecorder()
	h.setSessionCookie(rec, portalCookieName("s1"), "tok")

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "portal-session-s1" {
		t.Fatalf("cookie name = %q", c.Name)
	}
	if !c.HttpOnly || !c.Secure || c.Path != "/" {
		t.Fatalf("cookie attributes wrong: %+v", c)
	}
	if c.MaxAge != 86400 {
		t.Fatalf("cookie max-age = %d, want 86400", c.MaxAge)
	}
}

func TestClearCookie(t *testing.T) {
	h := testHandlerBare()
	rec := httptest.NewRecorder()
	h.clearCookie(rec, portalCookieName("s1"))

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", cookies)
	}
}

func TestDenyAccessIsGeneric(t *testing.T) {
	h := testHandlerBare()

	var bodies []string
	for _, reason := range []gate.Reason{gate.ReasonNotFound, gate.ReasonBadPassword, gate.ReasonUnauthorized, gate.ReasonUpstream} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/portal/s1", nil)
		h.denyAccess(rec, req, gate.Decision{Reason: reason}, "portal:s1")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("reason %s: status = %d, want 403", reason, rec.Code)
		}
		bodies = append(bodies, strings.TrimSpace(rec.Body.String()))
	}

	// Every denial reads identically; nothing leaks which gate failed.
	for _, b := range bodies {
		if b != bodies[0] {
			t.Fatalf("denial bodies differ: %q vs %q", bodies[0], b)
		}
	}
}

func TestCookieNames(t *testing.T) {
	if got := workoutCookieName("w9"); got != "workout_auth_w9" {
		t.Fatalf("workout cookie name = %q", got)
	}
	if got := sharedCookieName("w9"); got != "workout_access_w9" {
		t.Fatalf("shared cookie name = %q", got)
	}
}
