package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fitflowhq/fitflow/libs/db"
)

type Student struct {
	ID                 string
	TrainerID          string
	Name               string
	Email              string
	Phone              string
	Status             string // active | inactive
	AccessPasswordHash string // empty means the portal gate is open
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Exercise is one entry in a workout's ordered exercise list, stored as jsonb.
type Exercise struct {
	Name     string `json:"name"`
	Sets     int    `json:"sets"`
	Reps     string `json:"reps"`
	Load     string `json:"load,omitempty"`
	RestSecs int    `json:"rest_secs,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

type Workout struct {
	ID                 string
	TrainerID          string
	StudentID          string // empty for trainer-owned templates
	Name               string
	Description        string
	Exercises          []Exercise
	Status             string // active | inactive | not_started | completed
	AccessPasswordHash string // empty means the workout gate is open
	ShareSlug          string // empty when the workout has no public link
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateStudent(ctx context.Context, s Student) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO students (id, trainer_id, name, email, phone, status, access_password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.TrainerID, s.Name, s.Email, s.Phone, s.Status, s.AccessPasswordHash)
	return err
}

func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	var s Student
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, trainer_id::text, name, COALESCE(email, ''), COALESCE(phone, ''),
		       status, COALESCE(access_password_hash, ''), created_at, updated_at
		FROM students
		WHERE id = $1
	`, id).Scan(&s.ID, &s.TrainerID, &s.Name, &s.Email, &s.Phone, &s.Status, &s.AccessPasswordHash, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Student{}, err
	}
	return s, nil
}

func (r *Repository) ListStudents(ctx context.Context, trainerID string) ([]Student, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, trainer_id::text, name, COALESCE(email, ''), COALESCE(phone, ''),
		       status, COALESCE(access_password_hash, ''), created_at, updated_at
		FROM students
		WHERE trainer_id = $1
		ORDER BY name
	`, trainerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.TrainerID, &s.Name, &s.Email, &s.Phone, &s.Status, &s.AccessPasswordHash, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateStudent(ctx context.Context, s Student) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE students
		SET name = $3, email = $4, phone = $5, status = $6, updated_at = now()
		WHERE id = $1 AND trainer_id = $2
	`, s.ID, s.TrainerID, s.Name, s.Email, s.Phone, s.Status)
	return err
}

// SetStudentPassword stores the portal gate hash; an empty hash opens the gate.
func (r *Repository) SetStudentPassword(ctx context.Context, trainerID, studentID, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE students
		SET access_password_hash = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND trainer_id = $2
	`, studentID, trainerID, passwordHash)
	return err
}

// DeactivateStudent flips status instead of deleting: the row stays for the
// trainer's history and the portal gate starts denying.
func (r *Repository) DeactivateStudent(ctx context.Context, trainerID, studentID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE students
		SET status = 'inactive', updated_at = now()
		WHERE id = $1 AND trainer_id = $2
	`, studentID, trainerID)
	return err
}

func (r *Repository) CreateWorkout(ctx context.Context, w Workout) error {
	exercises, err := json.Marshal(w.Exercises)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO workouts (id, trainer_id, student_id, name, description, exercises, status, access_password_hash, share_slug)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
	`, w.ID, w.TrainerID, w.StudentID, w.Name, w.Description, exercises, w.Status, w.AccessPasswordHash, w.ShareSlug)
	return err
}

const workoutColumns = `
	id::text, trainer_id::text, COALESCE(student_id::text, ''), name, COALESCE(description, ''),
	exercises, status, COALESCE(access_password_hash, ''), COALESCE(share_slug, ''), created_at, updated_at
`

func scanWorkout(row pgx.Row) (Workout, error) {
	var w Workout
	var exercises []byte
	err := row.Scan(&w.ID, &w.TrainerID, &w.StudentID, &w.Name, &w.Description,
		&exercises, &w.Status, &w.AccessPasswordHash, &w.ShareSlug, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Workout{}, err
	}
	if len(exercises) > 0 {
		if err := json.Unmarshal(exercises, &w.Exercises); err != nil {
			return Workout{}, err
		}
	}
	return w, nil
}

func (r *Repository) GetWorkout(ctx context.Context, id string) (Workout, error) {
	return scanWorkout(r.pool.QueryRow(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts
		WHERE id = $1
	`, id))
}

func (r *Repository) GetWorkoutByShareSlug(ctx context.Context, slug string) (Workout, error) {
	return scanWorkout(r.pool.QueryRow(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts
		WHERE share_slug = $1
	`, slug))
}

func (r *Repository) ListWorkoutsByStudent(ctx context.Context, studentID string) ([]Workout, error) {
	return r.listWorkouts(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts
		WHERE student_id = $1
		ORDER BY created_at DESC
	`, studentID)
}

func (r *Repository) ListWorkoutsByTrainer(ctx context.Context, trainerID string) ([]Workout, error) {
	return r.listWorkouts(ctx, `
		SELECT `+workoutColumns+`
		FROM workouts
		WHERE trainer_id = $1
		ORDER BY created_at DESC
	`, trainerID)
}

func (r *Repository) listWorkouts(ctx context.Context, query string, arg any) ([]Workout, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateWorkout(ctx context.Context, w Workout) error {
	exercises, err := json.Marshal(w.Exercises)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE workouts
		SET student_id = NULLIF($3, '')::uuid, name = $4, description = $5, exercises = $6,
		    status = $7, access_password_hash = NULLIF($8, ''), share_slug = NULLIF($9, ''),
		    updated_at = now()
		WHERE id = $1 AND trainer_id = $2
	`, w.ID, w.TrainerID, w.StudentID, w.Name, w.Description, exercises, w.Status, w.AccessPasswordHash, w.ShareSlug)
	return err
}

func (r *Repository) DeleteWorkout(ctx context.Context, trainerID, workoutID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM workouts
		WHERE id = $1 AND trainer_id = $2
	`, workoutID, trainerID)
	return err
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
