package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fitflowhq/fitflow/libs/auth"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/gate"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/readmodel"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/storage"
)

func (h *Handler) requireTrainer(w http.ResponseWriter, r *http.Request) (*auth.TrainerClaims, bool) {
	claims, err := auth.TrainerFromRequest(r, h.jwtSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

type studentRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Status string `json:"status,omitempty"`
}

type studentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Status    string `json:"status"`
	HasGate   bool   `json:"has_gate"`
	CreatedAt string `json:"created_at"`
}

func toStudentResponse(s storage.Student) studentResponse {
	return studentResponse{
		ID:        s.ID,
		Name:      s.Name,
		Email:     s.Email,
		Phone:     s.Phone,
		Status:    s.Status,
		HasGate:   s.AccessPasswordHash != "",
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	var req studentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	student := storage.Student{
		ID:        uuid.NewString(),
		TrainerID: claims.TrainerID,
		Name:      req.Name,
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Status:    "active",
	}
	if err := h.repo.CreateStudent(r.Context(), student); err != nil {
		http.Error(w, "failed to create student", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentResponse(student))
}

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	students, err := h.repo.ListStudents(r.Context(), claims.TrainerID)
	if err != nil {
		http.Error(w, "failed to list students", http.StatusInternalServerError)
		return
	}
	out := []studentResponse{}
	for _, s := range students {
		out = append(out, toStudentResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// getOwnedStudent loads a student and enforces tenant ownership. Foreign
// students read as not found.
func (h *Handler) getOwnedStudent(w http.ResponseWriter, r *http.Request, trainerID string) (storage.Student, bool) {
	student, err := h.repo.GetStudent(r.Context(), r.PathValue("studentID"))
	if err != nil || student.TrainerID != trainerID {
		if err != nil && !storage.IsNotFound(err) {
			http.Error(w, "failed to load student", http.StatusInternalServerError)
			return storage.Student{}, false
		}
		http.Error(w, "student not found", http.StatusNotFound)
		return storage.Student{}, false
	}
	return student, true
}

func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	student, ok := h.getOwnedStudent(w, r, claims.TrainerID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	student, ok := h.getOwnedStudent(w, r, claims.TrainerID)
	if !ok {
		return
	}

	var req studentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		student.Name = name
	}
	student.Email = strings.TrimSpace(req.Email)
	student.Phone = strings.TrimSpace(req.Phone)
	if req.Status == "active" || req.Status == "inactive" {
		student.Status = req.Status
	}

	if err := h.repo.UpdateStudent(r.Context(), student); err != nil {
		http.Error(w, "failed to update student", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toStudentResponse(student))
}

func (h *Handler) DeactivateStudent(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	student, ok := h.getOwnedStudent(w, r, claims.TrainerID)
	if !ok {
		return
	}

	if err := h.repo.DeactivateStudent(r.Context(), claims.TrainerID, student.ID); err != nil {
		http.Error(w, "failed to deactivate student", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPasswordRequest struct {
	Password string `json:"password"` // empty removes the gate
}

// SetStudentPassword sets or removes the portal gate. The password is stored
// only as a bcrypt hash.
func (h *Handler) SetStudentPassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	student, ok := h.getOwnedStudent(w, r, claims.TrainerID)
	if !ok {
		return
	}

	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	hash := ""
	if pw := strings.TrimSpace(req.Password); pw != "" {
		var err error
		hash, err = gate.HashPassword(pw)
		if err != nil {
			http.Error(w, "failed to hash password", http.StatusInternalServerError)
			return
		}
	}
	if err := h.repo.SetStudentPassword(r.Context(), claims.TrainerID, student.ID, hash); err != nil {
		http.Error(w, "failed to set password", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "has_gate": hash != ""})
}

type workoutRequest struct {
	StudentID   string             `json:"student_id,omitempty"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Exercises   []storage.Exercise `json:"exercises,omitempty"`
	Status      string             `json:"status,omitempty"`
	Password    string             `json:"password,omitempty"`
	Shared      *bool              `json:"shared,omitempty"`
}

type workoutResponse struct {
	ID          string             `json:"id"`
	StudentID   string             `json:"student_id,omitempty"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Exercises   []storage.Exercise `json:"exercises"`
	Status      string             `json:"status"`
	HasGate     bool               `json:"has_gate"`
	ShareSlug   string             `json:"share_slug,omitempty"`
}

func toWorkoutResponse(wk storage.Workout) workoutResponse {
	exercises := wk.Exercises
	if exercises == nil {
		exercises = []storage.Exercise{}
	}
	return workoutResponse{
		ID:          wk.ID,
		StudentID:   wk.StudentID,
		Name:        wk.Name,
		Description: wk.Description,
		Exercises:   exercises,
		Status:      wk.Status,
		HasGate:     wk.AccessPasswordHash != "",
		ShareSlug:   wk.ShareSlug,
	}
}

func (h *Handler) CreateWorkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	var req workoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	// An assigned workout must point at the trainer's own student.
	if req.StudentID != "" {
		student, err := h.repo.GetStudent(r.Context(), req.StudentID)
		if err != nil || student.TrainerID != claims.TrainerID {
			http.Error(w, "student not found", http.StatusNotFound)
			return
		}
	}

	hash := ""
	if pw := strings.TrimSpace(req.Password); pw != "" {
		var err error
		hash, err = gate.HashPassword(pw)
		if err != nil {
			http.Error(w, "failed to hash password", http.StatusInternalServerError)
			return
		}
	}

	status := req.Status
	if status == "" {
		status = "not_started"
	}
	workout := storage.Workout{
		ID:                 uuid.NewString(),
		TrainerID:          claims.TrainerID,
		StudentID:          req.StudentID,
		Name:               req.Name,
		Description:        strings.TrimSpace(req.Description),
		Exercises:          req.Exercises,
		Status:             status,
		AccessPasswordHash: hash,
	}
	if req.Shared != nil && *req.Shared {
		workout.ShareSlug = newShareSlug()
	}

	if err := h.repo.CreateWorkout(r.Context(), workout); err != nil {
		http.Error(w, "failed to create workout", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkoutResponse(workout))
}

func (h *Handler) ListWorkouts(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	workouts, err := h.repo.ListWorkoutsByTrainer(r.Context(), claims.TrainerID)
	if err != nil {
		http.Error(w, "failed to list workouts", http.StatusInternalServerError)
		return
	}
	out := []workoutResponse{}
	for _, wk := range workouts {
		out = append(out, toWorkoutResponse(wk))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getOwnedWorkout(w http.ResponseWriter, r *http.Request, trainerID string) (storage.Workout, bool) {
	workout, err := h.repo.GetWorkout(r.Context(), r.PathValue("workoutID"))
	if err != nil || workout.TrainerID != trainerID {
		if err != nil && !storage.IsNotFound(err) {
			http.Error(w, "failed to load workout", http.StatusInternalServerError)
			return storage.Workout{}, false
		}
		http.Error(w, "workout not found", http.StatusNotFound)
		return storage.Workout{}, false
	}
	return workout, true
}

func (h *Handler) GetWorkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	workout, ok := h.getOwnedWorkout(w, r, claims.TrainerID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toWorkoutResponse(workout))
}

func (h *Handler) UpdateWorkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	workout, ok := h.getOwnedWorkout(w, r, claims.TrainerID)
	if !ok {
		return
	}

	var req workoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		workout.Name = name
	}
	workout.Description = strings.TrimSpace(req.Description)
	if req.Exercises != nil {
		workout.Exercises = req.Exercises
	}
	if req.Status != "" {
		workout.Status = req.Status
	}
	if req.StudentID != "" {
		student, err := h.repo.GetStudent(r.Context(), req.StudentID)
		if err != nil || student.TrainerID != claims.TrainerID {
			http.Error(w, "student not found", http.StatusNotFound)
			return
		}
		workout.StudentID = req.StudentID
	}
	if pw := strings.TrimSpace(req.Password); pw != "" {
		hash, err := gate.HashPassword(pw)
		if err != nil {
			http.Error(w, "failed to hash password", http.StatusInternalServerError)
			return
		}
		workout.AccessPasswordHash = hash
	}
	if req.Shared != nil {
		if *req.Shared && workout.ShareSlug == "" {
			workout.ShareSlug = newShareSlug()
		}
		if !*req.Shared {
			workout.ShareSlug = ""
		}
	}

	if err := h.repo.UpdateWorkout(r.Context(), workout); err != nil {
		http.Error(w, "failed to update workout", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toWorkoutResponse(workout))
}

func (h *Handler) DeleteWorkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}
	workout, ok := h.getOwnedWorkout(w, r, claims.TrainerID)
	if !ok {
		return
	}

	if err := h.repo.DeleteWorkout(r.Context(), claims.TrainerID, workout.ID); err != nil {
		http.Error(w, "failed to delete workout", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBillingView serves the locally consumed billing state for the trainer
// dashboard. Trainers with no consumed event yet read as free.
func (h *Handler) GetBillingView(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireTrainer(w, r)
	if !ok {
		return
	}

	view, err := h.views.Get(r.Context(), claims.TrainerID)
	if err != nil {
		if readmodel.IsNotFound(err) {
			writeJSON(w, http.StatusOK, map[string]any{
				"trainer_id":          claims.TrainerID,
				"plan":                "free",
				"subscription_status": "none",
			})
			return
		}
		http.Error(w, "failed to load billing view", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trainer_id":          view.TrainerID,
		"plan":                view.Plan,
		"subscription_status": view.SubscriptionStatus,
		"max_students":        view.MaxStudents,
		"max_workouts":        view.MaxWorkouts,
		"changed_at":          view.ChangedAt.UTC().Format(time.RFC3339),
	})
}

func newShareSlug() string {
	var b [9]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
