package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type unlockRequest struct {
	Password string `json:"password"`
}

type studentView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Workouts []workoutView `json:"workouts"`
}

type workoutView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Locked      bool   `json:"locked"`
}

// UnlockPortal checks the student's portal password and, on success, sets the
// 24h session cookie.
func (h *Handler) UnlockPortal(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentID")

	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	existing := cookieValue(r, portalCookieName(studentID))
	d := h.gate.CheckPortalAccess(r.Context(), studentID, strings.TrimSpace(req.Password), existing)
	if !d.Granted {
		h.denyAccess(w, r, d, "portal:"+studentID)
		return
	}
	if d.SessionToken != "" {
		h.setSessionCookie(w, portalCookieName(studentID), d.SessionToken)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ViewPortal serves the student's portal: their profile and assigned
// workouts. Workouts with their own password show as locked until unlocked
// individually.
func (h *Handler) ViewPortal(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentID")

	if !h.portalCleared(w, r, studentID) {
		return
	}

	student, err := h.repo.GetStudent(r.Context(), studentID)
	if err != nil {
		// The gate already resolved the student; treat any failure here as
		// a transient store error.
		http.Error(w, "failed to load portal", http.StatusInternalServerError)
		return
	}

	workouts, err := h.repo.ListWorkoutsByStudent(r.Context(), studentID)
	if err != nil {
		http.Error(w, "failed to load workouts", http.StatusInternalServerError)
		return
	}

	view := studentView{ID: student.ID, Name: student.Name, Workouts: []workoutView{}}
	for _, wk := range workouts {
		view.Workouts = append(view.Workouts, workoutView{
			ID:          wk.ID,
			Name:        wk.Name,
			Description: wk.Description,
			Status:      wk.Status,
			Locked:      wk.AccessPasswordHash != "",
		})
	}
	writeJSON(w, http.StatusOK, view)
}

// Logout revokes the portal session server-side and clears the cookie. This
// is the only backward transition in the gate's state machine.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentID")

	name := portalCookieName(studentID)
	if token := cookieValue(r, name); token != "" {
		if err := h.sessions.RevokePortalSession(r.Context(), token); err != nil {
			h.logger.Warn("session revoke failed", "err", err, "student_id", studentID)
		}
	}
	h.clearCookie(w, name)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// portalCleared enforces the portal gate for content routes. A trainer JWT
// for the owning trainer bypasses the gate entirely.
func (h *Handler) portalCleared(w http.ResponseWriter, r *http.Request, studentID string) bool {
	if claims := h.trainerClaims(r); claims != nil {
		student, err := h.repo.GetStudent(r.Context(), studentID)
		if err == nil && student.TrainerID == claims.TrainerID {
			return true
		}
	}

	d := h.gate.CheckPortalAccess(r.Context(), studentID, "", cookieValue(r, portalCookieName(studentID)))
	if !d.Granted {
		h.denyAccess(w, r, d, "portal:"+studentID)
		return false
	}
	return true
}
