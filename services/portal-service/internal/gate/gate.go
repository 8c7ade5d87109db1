package gate

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/fitflowhq/fitflow/services/portal-service/internal/sessions"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/storage"
)

// Reason classifies a denial for logging. Handlers surface every reason as
// the same generic access-denied response so callers can't probe which
// records exist.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonBadPassword  Reason = "bad_password"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonUpstream     Reason = "upstream"
)

// Decision is the outcome of one gate check. SessionToken is set when the
// check cleared a password gate and a new session should be issued to the
// client.
type Decision struct {
	Granted      bool
	Reason       Reason
	SessionToken string
}

func granted() Decision               { return Decision{Granted: true} }
func grantedWith(tok string) Decision { return Decision{Granted: true, SessionToken: tok} }
func denied(r Reason) Decision        { return Decision{Reason: r} }

type StudentSource interface {
	GetStudent(ctx context.Context, id string) (storage.Student, error)
}

type WorkoutSource interface {
	GetWorkout(ctx context.Context, id string) (storage.Workout, error)
	GetWorkoutByShareSlug(ctx context.Context, slug string) (storage.Workout, error)
}

type SessionStore interface {
	IssuePortalSession(ctx context.Context, studentID string) (string, error)
	ValidatePortalSession(ctx context.Context, token, studentID string) error
	IssueWorkoutSession(ctx context.Context, workoutID string) (string, error)
	ValidateWorkoutSession(ctx context.Context, token, workoutID string) error
	IssueSharedSession(ctx context.Context, workoutID string) (string, error)
	ValidateSharedSession(ctx context.Context, token, workoutID string) error
}

// Gate decides whether a visitor may view a student portal or a workout.
// Every store failure denies access: the gate fails closed.
type Gate struct {
	Students StudentSource
	Workouts WorkoutSource
	Sessions SessionStore
}

// CheckPortalAccess resolves the student-level gate. Order matters: an open
// gate (no password set) grants before any session or password is looked at,
// a valid session bypasses the password, and only then is the supplied
// password verified against the stored hash.
func (g *Gate) CheckPortalAccess(ctx context.Context, studentID, password, sessionToken string) Decision {
	student, err := g.Students.GetStudent(ctx, studentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return denied(ReasonNotFound)
		}
		return denied(ReasonUpstream)
	}
	if student.Status != "active" {
		return denied(ReasonNotFound)
	}

	if student.AccessPasswordHash == "" {
		return granted()
	}

	if sessionToken != "" {
		err := g.Sessions.ValidatePortalSession(ctx, sessionToken, studentID)
		switch {
		case err == nil:
			return granted()
		case errors.Is(err, sessions.ErrNoSession), errors.Is(err, sessions.ErrScopeMismatch):
			// Expired or foreign token: fall through to the password check.
		default:
			return denied(ReasonUpstream)
		}
	}

	if password != "" && verifyPassword(student.AccessPasswordHash, password) {
		token, err := g.Sessions.IssuePortalSession(ctx, studentID)
		if err != nil {
			return denied(ReasonUpstream)
		}
		return grantedWith(token)
	}

	return denied(ReasonBadPassword)
}

// CheckWorkoutAccess resolves the second gate stage. The portal gate is a
// strict prerequisite: without a cleared portal session the workout password
// is never even compared.
func (g *Gate) CheckWorkoutAccess(ctx context.Context, studentID, workoutID, password, portalToken, workoutToken string) Decision {
	portal := g.CheckPortalAccess(ctx, studentID, "", portalToken)
	if !portal.Granted {
		if portal.Reason == ReasonNotFound || portal.Reason == ReasonUpstream {
			return portal
		}
		return denied(ReasonUnauthorized)
	}

	workout, err := g.Workouts.GetWorkout(ctx, workoutID)
	if err != nil {
		if storage.IsNotFound(err) {
			return denied(ReasonNotFound)
		}
		return denied(ReasonUpstream)
	}
	// A workout assigned to another student does not exist from this
	// visitor's point of view, even with the correct password in hand.
	if workout.StudentID != studentID {
		return denied(ReasonNotFound)
	}

	if workout.AccessPasswordHash == "" {
		return granted()
	}

	if workoutToken != "" {
		err := g.Sessions.ValidateWorkoutSession(ctx, workoutToken, workoutID)
		switch {
		case err == nil:
			return granted()
		case errors.Is(err, sessions.ErrNoSession), errors.Is(err, sessions.ErrScopeMismatch):
		default:
			return denied(ReasonUpstream)
		}
	}

	if password != "" && verifyPassword(workout.AccessPasswordHash, password) {
		token, err := g.Sessions.IssueWorkoutSession(ctx, workoutID)
		if err != nil {
			return denied(ReasonUpstream)
		}
		return grantedWith(token)
	}

	return denied(ReasonBadPassword)
}

// CheckSharedWorkoutAccess resolves access through a trainer-shared public
// link. No student login is involved; the workout's own password is the only
// gate, remembered per workout by its own session. The verified token is
// looked up through tokenFor because its cookie is keyed by the workout id,
// which is only known once the slug resolves.
func (g *Gate) CheckSharedWorkoutAccess(ctx context.Context, shareSlug, password string, tokenFor func(workoutID string) string) (Decision, storage.Workout) {
	workout, err := g.Workouts.GetWorkoutByShareSlug(ctx, shareSlug)
	if err != nil {
		if storage.IsNotFound(err) {
			return denied(ReasonNotFound), storage.Workout{}
		}
		return denied(ReasonUpstream), storage.Workout{}
	}

	if workout.AccessPasswordHash == "" {
		return granted(), workout
	}

	verifiedToken := ""
	if tokenFor != nil {
		verifiedToken = tokenFor(workout.ID)
	}
	if verifiedToken != "" {
		err := g.Sessions.ValidateSharedSession(ctx, verifiedToken, workout.ID)
		switch {
		case err == nil:
			return granted(), workout
		case errors.Is(err, sessions.ErrNoSession), errors.Is(err, sessions.ErrScopeMismatch):
		default:
			return denied(ReasonUpstream), storage.Workout{}
		}
	}

	if password != "" && verifyPassword(workout.AccessPasswordHash, password) {
		token, err := g.Sessions.IssueSharedSession(ctx, workout.ID)
		if err != nil {
			return denied(ReasonUpstream), storage.Workout{}
		}
		return grantedWith(token), workout
	}

	return denied(ReasonBadPassword), storage.Workout{}
}

func verifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword is used by the trainer-facing handlers when setting or
// changing a portal or workout password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
