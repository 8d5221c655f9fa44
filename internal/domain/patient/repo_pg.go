package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compass/compass/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientColumns = `id, registration_no, name, gender, date_of_birth, dob_estimated,
	phone, alternate_phone, address, village, block, district, diseases, notes,
	hospital_id, asha_id, doctor_id, status, next_follow_up, registered_by,
	created_at, updated_at`

const followUpColumns = `id, patient_id, scheduled_date, completed_at, outcome, notes,
	recorded_by, created_at`

func (r *repoPG) NextRegistrationSeq(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('patient_registration_seq')`).Scan(&n)
	return n, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (
			id, registration_no, name, gender, date_of_birth, dob_estimated,
			phone, alternate_phone, address, village, block, district, diseases, notes,
			hospital_id, asha_id, doctor_id, status, registered_by
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19
		) RETURNING created_at, updated_at`,
		p.ID, p.RegistrationNo, p.Name, p.Gender, p.DateOfBirth, p.DOBEstimated,
		p.Phone, p.AlternatePhone, p.Address, p.Village, p.Block, p.District, p.Diseases, p.Notes,
		p.HospitalID, p.ASHAID, p.DoctorID, p.Status, p.RegisteredBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientColumns+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			name = $2, gender = $3, date_of_birth = $4, dob_estimated = $5,
			phone = $6, alternate_phone = $7, address = $8, village = $9, block = $10,
			district = $11, diseases = $12, notes = $13, hospital_id = $14, asha_id = $15,
			doctor_id = $16, status = $17, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Gender, p.DateOfBirth, p.DOBEstimated,
		p.Phone, p.AlternatePhone, p.Address, p.Village, p.Block,
		p.District, p.Diseases, p.Notes, p.HospitalID, p.ASHAID,
		p.DoctorID, p.Status,
	).Scan(&p.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, scope Scope) ([]*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patient WHERE 1=1`
	var args []interface{}
	idx := 1

	if scope.HospitalID != nil {
		query += fmt.Sprintf(` AND hospital_id = $%d`, idx)
		args = append(args, *scope.HospitalID)
		idx++
	}
	if scope.ASHAID != nil {
		query += fmt.Sprintf(` AND asha_id = $%d`, idx)
		args = append(args, *scope.ASHAID)
		idx++
	}
	query += ` ORDER BY created_at DESC, registration_no`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatients(rows)
}

func (r *repoPG) FindByPhone(ctx context.Context, phone string) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientColumns+` FROM patient WHERE phone = $1 OR alternate_phone = $1 ORDER BY created_at`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatients(rows)
}

func (r *repoPG) CreateFollowUp(ctx context.Context, f *FollowUp) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_follow_up (id, patient_id, scheduled_date, notes, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		f.ID, f.PatientID, f.ScheduledDate, f.Notes, f.RecordedBy,
	).Scan(&f.CreatedAt)
	return mapErr(err)
}

func (r *repoPG) GetFollowUp(ctx context.Context, id uuid.UUID) (*FollowUp, error) {
	return scanFollowUp(r.conn(ctx).QueryRow(ctx,
		`SELECT `+followUpColumns+` FROM patient_follow_up WHERE id = $1`, id))
}

func (r *repoPG) ListFollowUps(ctx context.Context, patientID uuid.UUID) ([]*FollowUp, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+followUpColumns+` FROM patient_follow_up WHERE patient_id = $1
		ORDER BY scheduled_date, created_at`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repoPG) CompleteFollowUp(ctx context.Context, f *FollowUp) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_follow_up SET completed_at = $2, outcome = $3, notes = $4, recorded_by = $5
		WHERE id = $1 AND completed_at IS NULL`,
		f.ID, f.CompletedAt, f.Outcome, f.Notes, f.RecordedBy)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

func (r *repoPG) RefreshNextFollowUp(ctx context.Context, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET next_follow_up = (
			SELECT MIN(scheduled_date) FROM patient_follow_up
			WHERE patient_id = $1 AND completed_at IS NULL
		), updated_at = NOW()
		WHERE id = $1`, patientID)
	return mapErr(err)
}

func (r *repoPG) ListDueFollowUps(ctx context.Context, scope Scope, on time.Time) ([]*DueFollowUp, error) {
	query := `SELECT f.id, f.patient_id, f.scheduled_date, f.completed_at, f.outcome, f.notes,
			f.recorded_by, f.created_at,
			p.name, p.registration_no, p.village, p.phone, p.hospital_id, p.asha_id
		FROM patient_follow_up f
		JOIN patient p ON p.id = f.patient_id
		WHERE f.completed_at IS NULL AND f.scheduled_date <= $1`
	args := []interface{}{on}
	idx := 2

	if scope.HospitalID != nil {
		query += fmt.Sprintf(` AND p.hospital_id = $%d`, idx)
		args = append(args, *scope.HospitalID)
		idx++
	}
	if scope.ASHAID != nil {
		query += fmt.Sprintf(` AND p.asha_id = $%d`, idx)
		args = append(args, *scope.ASHAID)
		idx++
	}
	query += ` ORDER BY f.scheduled_date, p.name`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DueFollowUp
	for rows.Next() {
		var d DueFollowUp
		if err := rows.Scan(
			&d.ID, &d.PatientID, &d.ScheduledDate, &d.CompletedAt, &d.Outcome, &d.Notes,
			&d.RecordedBy, &d.CreatedAt,
			&d.PatientName, &d.RegistrationNo, &d.Village, &d.Phone, &d.HospitalID, &d.ASHAID,
		); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.RegistrationNo, &p.Name, &p.Gender, &p.DateOfBirth, &p.DOBEstimated,
		&p.Phone, &p.AlternatePhone, &p.Address, &p.Village, &p.Block, &p.District, &p.Diseases, &p.Notes,
		&p.HospitalID, &p.ASHAID, &p.DoctorID, &p.Status, &p.NextFollowUp, &p.RegisteredBy,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if p.Diseases == nil {
		p.Diseases = []string{}
	}
	return &p, nil
}

func scanFollowUp(row pgx.Row) (*FollowUp, error) {
	var f FollowUp
	err := row.Scan(
		&f.ID, &f.PatientID, &f.ScheduledDate, &f.CompletedAt, &f.Outcome, &f.Notes,
		&f.RecordedBy, &f.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &f, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: registration number already used", ErrValidation)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: referenced hospital or staff user does not exist", ErrValidation)
	}
	return err
}
