package gate

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fitflowhq/fitflow/services/portal-service/internal/sessions"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/storage"
)

type fakeStudents map[string]storage.Student

func (f fakeStudents) GetStudent(_ context.Context, id string) (storage.Student, error) {
	s, ok := f[id]
	if !ok {
		return storage.Student{}, pgx.ErrNoRows
	}
	return s, nil
}

type fakeWorkouts map[string]storage.Workout

func (f fakeWorkouts) GetWorkout(_ context.Context, id string) (storage.Workout, error) {
	w, ok := f[id]
	if !ok {
		return storage.Workout{}, pgx.ErrNoRows
	}
	return w, nil
}

func (f fakeWorkouts) GetWorkoutByShareSlug(_ context.Context, slug string) (storage.Workout, error) {
	for _, w := range f {
		if w.ShareSlug == slug {
			return w, nil
		}
	}
	return storage.Workout{}, pgx.ErrNoRows
}

// fakeSessions models the Redis store with an adjustable clock so expiry
// boundaries can be tested directly.
type fakeSessions struct {
	ttl     time.Duration
	now     time.Time
	entries map[string]sessionEntry
	counter int
}

type sessionEntry struct {
	subject   string
	expiresAt time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		ttl:     24 * time.Hour,
		now:     time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
		entries: map[string]sessionEntry{},
	}
}

func (f *fakeSessions) issue(prefix, subject string) (string, error) {
	f.counter++
	token := prefix + "-tok-" + string(rune('a'+f.counter))
	f.entries[prefix+token] = sessionEntry{subject: subject, expiresAt: f.now.Add(f.ttl)}
	return token, nil
}

func (f *fakeSessions) validate(prefix, token, subject string) error {
	e, ok := f.entries[prefix+token]
	if !ok || f.now.After(e.expiresAt) {
		return sessions.ErrNoSession
	}
	if e.subject != subject {
		return sessions.ErrScopeMismatch
	}
	return nil
}

func (f *fakeSessions) IssuePortalSession(_ context.Context, id string) (string, error) {
	return f.issue("p", id)
}
func (f *fakeSessions) ValidatePortalSession(_ context.Context, tok, id string) error {
	return f.validate("p", tok, id)
}
func (f *fakeSessions) IssueWorkoutSession(_ context.Context, id string) (string, error) {
	return f.issue("w", id)
}
func (f *fakeSessions) ValidateWorkoutSession(_ context.Context, tok, id string) error {
	return f.validate("w", tok, id)
}
func (f *fakeSessions) IssueSharedSession(_ context.Context, id string) (string, error) {
	return f.issue("s", id)
}
func (f *fakeSessions) ValidateSharedSession(_ context.Context, tok, id string) error {
	return f.validate("s", tok, id)
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := HashPassword(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func testGate(t *testing.T) (*Gate, *fakeSessions) {
	t.Helper()
	hashS1 := mustHash(t, "open-sesame")
	hashW1 := mustHash(t, "legday")
	store := newFakeSessions()
	g := &Gate{
		Students: fakeStudents{
			"s1": {ID: "s1", TrainerID: "t1", Status: "active", AccessPasswordHash: hashS1},
			"s2": {ID: "s2", TrainerID: "t1", Status: "active"},
			"s3": {ID: "s3", TrainerID: "t1", Status: "inactive", AccessPasswordHash: hashS1},
		},
		Workouts: fakeWorkouts{
			"w1": {ID: "w1", TrainerID: "t1", StudentID: "s1", AccessPasswordHash: hashW1},
			"w2": {ID: "w2", TrainerID: "t1", StudentID: "s2"},
			"w3": {ID: "w3", TrainerID: "t1", StudentID: "s2", AccessPasswordHash: hashW1, ShareSlug: "share-w3"},
		},
		Sessions: store,
	}
	return g, store
}

func TestPortalAccess_OpenGate(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	for _, pw := range []string{"", "anything", "open-sesame"} {
		d := g.CheckPortalAccess(ctx, "s2", pw, "")
		if !d.Granted {
			t.Fatalf("open gate should grant regardless of password %q, got %+v", pw, d)
		}
	}
}

func TestPortalAccess_Password(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	d := g.CheckPortalAccess(ctx, "s1", "open-sesame", "")
	if !d.Granted || d.SessionToken == "" {
		t.Fatalf("correct password should grant with a session token, got %+v", d)
	}

	d = g.CheckPortalAccess(ctx, "s1", "open-sesamex", "")
	if d.Granted || d.Reason != ReasonBadPassword {
		t.Fatalf("wrong password should deny with bad_password, got %+v", d)
	}

	d = g.CheckPortalAccess(ctx, "s1", "", "")
	if d.Granted || d.Reason != ReasonBadPassword {
		t.Fatalf("missing password should deny, got %+v", d)
	}
}

func TestPortalAccess_UnknownStudent(t *testing.T) {
	g, _ := testGate(t)
	d := g.CheckPortalAccess(context.Background(), "nope", "open-sesame", "")
	if d.Granted || d.Reason != ReasonNotFound {
		t.Fatalf("unknown student should deny with not_found, got %+v", d)
	}
}

func TestPortalAccess_InactiveStudent(t *testing.T) {
	g, _ := testGate(t)
	d := g.CheckPortalAccess(context.Background(), "s3", "open-sesame", "")
	if d.Granted || d.Reason != ReasonNotFound {
		t.Fatalf("inactive student should deny like a missing one, got %+v", d)
	}
}

func TestPortalAccess_SessionBypassAndExpiry(t *testing.T) {
	g, store := testGate(t)
	ctx := context.Background()

	d := g.CheckPortalAccess(ctx, "s1", "open-sesame", "")
	if !d.Granted || d.SessionToken == "" {
		t.Fatalf("expected session token, got %+v", d)
	}
	token := d.SessionToken

	store.now = store.now.Add(23*time.Hour + 59*time.Minute)
	if d := g.CheckPortalAccess(ctx, "s1", "", token); !d.Granted {
		t.Fatalf("session should still be valid just inside the window, got %+v", d)
	}

	store.now = store.now.Add(2 * time.Minute)
	if d := g.CheckPortalAccess(ctx, "s1", "", token); d.Granted {
		t.Fatalf("session past its window should require re-auth, got %+v", d)
	}
}

func TestPortalAccess_SessionScopedToOneStudent(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	d := g.CheckPortalAccess(ctx, "s1", "open-sesame", "")
	if !d.Granted {
		t.Fatalf("setup grant failed: %+v", d)
	}

	// A passworded peer: their gate must not accept s1's token.
	g.Students.(fakeStudents)["s4"] = storage.Student{
		ID: "s4", TrainerID: "t1", Status: "active", AccessPasswordHash: mustHash(t, "different"),
	}
	if d2 := g.CheckPortalAccess(ctx, "s4", "", d.SessionToken); d2.Granted {
		t.Fatalf("token for s1 must not clear s4's gate, got %+v", d2)
	}
}

func TestWorkoutAccess_RequiresPortalFirst(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	d := g.CheckWorkoutAccess(ctx, "s1", "w1", "legday", "", "")
	if d.Granted || d.Reason != ReasonUnauthorized {
		t.Fatalf("workout gate without portal session should deny unauthorized, got %+v", d)
	}
}

func TestWorkoutAccess_TwoStageGate(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	portal := g.CheckPortalAccess(ctx, "s1", "open-sesame", "")
	if !portal.Granted {
		t.Fatalf("portal grant failed: %+v", portal)
	}

	d := g.CheckWorkoutAccess(ctx, "s1", "w1", "", portal.SessionToken, "")
	if d.Granted || d.Reason != ReasonBadPassword {
		t.Fatalf("workout password still required after portal, got %+v", d)
	}

	d = g.CheckWorkoutAccess(ctx, "s1", "w1", "legday", portal.SessionToken, "")
	if !d.Granted || d.SessionToken == "" {
		t.Fatalf("correct workout password should grant with its own token, got %+v", d)
	}

	// The issued workout token clears the gate on the next visit.
	d2 := g.CheckWorkoutAccess(ctx, "s1", "w1", "", portal.SessionToken, d.SessionToken)
	if !d2.Granted {
		t.Fatalf("workout token should bypass the password, got %+v", d2)
	}
}

func TestWorkoutAccess_OtherStudentsWorkoutIsNotFound(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	portal := g.CheckPortalAccess(ctx, "s1", "open-sesame", "")
	if !portal.Granted {
		t.Fatalf("portal grant failed: %+v", portal)
	}

	// w3 belongs to s2; the correct password must not help.
	d := g.CheckWorkoutAccess(ctx, "s1", "w3", "legday", portal.SessionToken, "")
	if d.Granted || d.Reason != ReasonNotFound {
		t.Fatalf("cross-student workout must look like not_found, got %+v", d)
	}
}

func TestSharedWorkoutAccess(t *testing.T) {
	g, _ := testGate(t)
	ctx := context.Background()

	d, _ := g.CheckSharedWorkoutAccess(ctx, "share-w3", "", nil)
	if d.Granted || d.Reason != ReasonBadPassword {
		t.Fatalf("passworded shared link should deny without password, got %+v", d)
	}

	d, w := g.CheckSharedWorkoutAccess(ctx, "share-w3", "legday", nil)
	if !d.Granted || d.SessionToken == "" || w.ID != "w3" {
		t.Fatalf("correct password should grant shared access, got %+v (workout %+v)", d, w)
	}

	token := d.SessionToken
	d2, _ := g.CheckSharedWorkoutAccess(ctx, "share-w3", "", func(id string) string {
		if id == "w3" {
			return token
		}
		return ""
	})
	if !d2.Granted {
		t.Fatalf("verified token should persist for the same workout, got %+v", d2)
	}

	if d3, _ := g.CheckSharedWorkoutAccess(ctx, "no-such-slug", "legday", nil); d3.Granted || d3.Reason != ReasonNotFound {
		t.Fatalf("unknown slug should deny not_found, got %+v", d3)
	}
}
