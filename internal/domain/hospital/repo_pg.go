package hospital

import (
	"context"
	"errors"
	"fmt"

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

const hospitalColumns = `id, code, name, type, address, block, district, state, pincode,
	phone, email, in_charge_name, bed_count, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, h *Hospital) error {
	h.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospital (
			id, code, name, type, address, block, district, state, pincode,
			phone, email, in_charge_name, bed_count, active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14
		) RETURNING created_at, updated_at`,
		h.ID, h.Code, h.Name, h.Type, h.Address, h.Block, h.District, h.State, h.Pincode,
		h.Phone, h.Email, h.InChargeName, h.BedCount, h.Active,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospital WHERE id = $1`, id))
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Hospital, error) {
	return scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospital WHERE code = $1`, code))
}

func (r *repoPG) Update(ctx context.Context, h *Hospital) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE hospital SET
			code = $2, name = $3, type = $4, address = $5, block = $6,
			district = $7, state = $8, pincode = $9, phone = $10, email = $11,
			in_charge_name = $12, bed_count = $13, active = $14, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		h.ID, h.Code, h.Name, h.Type, h.Address, h.Block,
		h.District, h.State, h.Pincode, h.Phone, h.Email,
		h.InChargeName, h.BedCount, h.Active,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	return mapErr(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM hospital WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Hospital, int, error) {
	query := `SELECT ` + hospitalColumns + ` FROM hospital WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM hospital WHERE 1=1`
	var args []interface{}
	idx := 1

	if q, ok := params["q"]; ok && q != "" {
		clause := fmt.Sprintf(` AND (name ILIKE $%d OR code ILIKE $%d)`, idx, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+q+"%")
		idx++
	}
	if district, ok := params["district"]; ok && district != "" {
		clause := fmt.Sprintf(` AND district ILIKE $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, district)
		idx++
	}
	if block, ok := params["block"]; ok && block != "" {
		clause := fmt.Sprintf(` AND block ILIKE $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, block)
		idx++
	}
	if typ, ok := params["type"]; ok && typ != "" {
		clause := fmt.Sprintf(` AND type = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, typ)
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

	query += ` ORDER BY name, code`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
		args = append(args, limit, offset)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var hospitals []*Hospital
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		hospitals = append(hospitals, h)
	}
	return hospitals, total, rows.Err()
}

func (r *repoPG) Options(ctx context.Context) ([]Option, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, code, name, type FROM hospital WHERE active ORDER BY name, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	opts := []Option{}
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.Code, &o.Name, &o.Type); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func (r *repoPG) CountPatients(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE hospital_id = $1`, id).Scan(&n)
	return n, err
}

func (r *repoPG) CountStaff(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM staff_user WHERE hospital_id = $1`, id).Scan(&n)
	return n, err
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(
		&h.ID, &h.Code, &h.Name, &h.Type, &h.Address, &h.Block, &h.District, &h.State, &h.Pincode,
		&h.Phone, &h.Email, &h.InChargeName, &h.BedCount, &h.Active, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &h, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateCode
	case db.IsForeignKeyViolation(err):
		return ErrInUse
	}
	return err
}
