package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fitflowhq/fitflow/services/portal-service/internal/storage"
)

type workoutDetail struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Status      string             `json:"status"`
	Exercises   []storage.Exercise `json:"exercises"`
}

// UnlockWorkout clears the second gate stage for one workout and sets the
// per-workout cookie on success.
func (h *Handler) UnlockWorkout(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentID")
	workoutID := r.PathValue("workoutID")

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	d := h.gate.CheckWorkoutAccess(r.Context(), studentID, workoutID,
		strings.TrimSpace(req.Password),
		cookieValue(r, portalCookieName(studentID)),
		cookieValue(r, workoutCookieName(workoutID)),
	)
	if !d.Granted {
		h.denyAccess(w, r, d, "workout:"+workoutID)
		return
	}
	if d.SessionToken != "" {
		h.setSessionCookie(w, workoutCookieName(workoutID), d.SessionToken)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ViewWorkout serves one assigned workout behind both gate stages.
func (h *Handler) ViewWorkout(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentID")
	workoutID := r.PathValue("workoutID")

	if claims := h.trainerClaims(r); claims != nil {
		workout, err := h.repo.GetWorkout(r.Context(), workoutID)
		if err == nil && workout.TrainerID == claims.TrainerID {
			writeWorkout(w, workout)
			return
		}
	}

	d := h.gate.CheckWorkoutAccess(r.Context(), studentID, workoutID, "",
		cookieValue(r, portalCookieName(studentID)),
		cookieValue(r, workoutCookieName(workoutID)),
	)
	if !d.Granted {
		h.denyAccess(w, r, d, "workout:"+workoutID)
		return
	}

	workout, err := h.repo.GetWorkout(r.Context(), workoutID)
	if err != nil {
		http.Error(w, "failed to load workout", http.StatusInternalServerError)
		return
	}
	writeWorkout(w, workout)
}

// UnlockSharedWorkout handles the public link password form.
func (h *Handler) UnlockSharedWorkout(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	d, workout := h.gate.CheckSharedWorkoutAccess(r.Context(), slug, strings.TrimSpace(req.Password), func(workoutID string) string {
		return cookieValue(r, sharedCookieName(workoutID))
	})
	if !d.Granted {
		h.denyAccess(w, r, d, "shared:"+slug)
		return
	}
	if d.SessionToken != "" {
		h.setSessionCookie(w, sharedCookieName(workout.ID), d.SessionToken)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "workout_id": workout.ID})
}

// ViewSharedWorkout serves a workout through its public link. The verified
// cookie, once set, clears the gate for that single workout only.
func (h *Handler) ViewSharedWorkout(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	d, workout := h.gate.CheckSharedWorkoutAccess(r.Context(), slug, "", func(workoutID string) string {
		return cookieValue(r, sharedCookieName(workoutID))
	})
	if !d.Granted {
		h.denyAccess(w, r, d, "shared:"+slug)
		return
	}
	writeWorkout(w, workout)
}

func writeWorkout(w http.ResponseWriter, workout storage.Workout) {
	exercises := workout.Exercises
	if exercises == nil {
		exercises = []storage.Exercise{}
	}
	writeJSON(w, http.StatusOK, workoutDetail{
		ID:          workout.ID,
		Name:        workout.Name,
		Description: workout.Description,
		Status:      workout.Status,
		Exercises:   exercises,
	})
}
