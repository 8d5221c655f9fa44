package staff

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

const staffColumns = `id, auth_uid, name, email, phone, role, hospital_id, password_hash,
	device_token, active, last_login_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, s *StaffUser) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO staff_user (
			id, auth_uid, name, email, phone, role, hospital_id, password_hash, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		s.ID, s.AuthUID, s.Name, s.Email, s.Phone, s.Role, s.HospitalID, s.PasswordHash, s.Active,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*StaffUser, error) {
	return scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_user WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*StaffUser, error) {
	return scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_user WHERE email = $1`, email))
}

func (r *repoPG) GetByAuthUID(ctx context.Context, uid string) (*StaffUser, error) {
	return scanStaff(r.conn(ctx).QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_user WHERE auth_uid = $1`, uid))
}

func (r *repoPG) Update(ctx context.Context, s *StaffUser) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE staff_user SET
			auth_uid = $2, name = $3, email = $4, phone = $5, role = $6,
			hospital_id = $7, password_hash = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.AuthUID, s.Name, s.Email, s.Phone, s.Role, s.HospitalID, s.PasswordHash,
	).Scan(&s.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, `UPDATE staff_user SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (r *repoPG) SetDeviceToken(ctx context.Context, id uuid.UUID, token string) error {
	return r.exec(ctx, `UPDATE staff_user SET device_token = $2, updated_at = NOW() WHERE id = $1`, id, token)
}

func (r *repoPG) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE staff_user SET last_login_at = $2 WHERE id = $1`, id, at)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM staff_user WHERE id = $1`, id)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*StaffUser, int, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_user WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM staff_user WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok && q != "" {
		clause := fmt.Sprintf(` AND (name ILIKE $%d OR email ILIKE $%d OR phone LIKE $%d)`, idx, idx, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+q+"%")
		idx++
	}
	if role, ok := params["role"]; ok && role != "" {
		clause := fmt.Sprintf(` AND role = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, role)
		idx++
	}
	if hospitalID, ok := params["hospital_id"]; ok && hospitalID != "" {
		clause := fmt.Sprintf(` AND hospital_id = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, hospitalID)
		idx++
	}
	if active, ok := params["active"]; ok && active != "" {
		clause := fmt.Sprintf(` AND active = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, active == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name, email`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
		args = append(args, limit, offset)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*StaffUser
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, s)
	}
	return users, total, rows.Err()
}

func (r *repoPG) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM staff_user WHERE role = 'admin' AND active`).Scan(&n)
	return n, err
}

func scanStaff(row pgx.Row) (*StaffUser, error) {
	var s StaffUser
	err := row.Scan(
		&s.ID, &s.AuthUID, &s.Name, &s.Email, &s.Phone, &s.Role, &s.HospitalID, &s.PasswordHash,
		&s.DeviceToken, &s.Active, &s.LastLoginAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateEmail
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: hospital does not exist", ErrValidation)
	}
	return err
}
