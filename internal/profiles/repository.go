package profiles

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-hq/larder/internal/shared"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileColumns = `id, email, role_id, created_at`

// List returns all profiles ordered by email.
func (r *Repository) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// Get returns one profile by id.
func (r *Repository) Get(ctx context.Context, id string) (Profile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, err
	}
	return profile, nil
}

// RoleID returns the stored role id for a user.
func (r *Repository) RoleID(ctx context.Context, id string) (int, error) {
	var roleID int
	err := r.pool.QueryRow(ctx, `SELECT role_id FROM profiles WHERE id = $1`, id).Scan(&roleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrNotFound
		}
		return 0, err
	}
	return roleID, nil
}

// Create inserts a profile; duplicate emails map to shared.ErrDuplicate.
// New profiles start with role_id 0 (pending).
func (r *Repository) Create(ctx context.Context, email string) (Profile, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO profiles (id, email) VALUES ($1, $2) RETURNING `+profileColumns,
		uuid.NewString(), email)
	profile, err := scanProfile(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Profile{}, shared.ErrDuplicate
		}
		return Profile{}, err
	}
	return profile, nil
}

// UpdateRole sets a profile's role id.
func (r *Repository) UpdateRole(ctx context.Context, id string, roleID int) (Profile, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE profiles SET role_id = $2 WHERE id = $1 RETURNING `+profileColumns, id, roleID)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, err
	}
	return profile, nil
}

// Delete removes a profile and returns the removed row.
func (r *Repository) Delete(ctx context.Context, id string) (Profile, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM profiles WHERE id = $1 RETURNING `+profileColumns, id)
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, shared.ErrNotFound
		}
		return Profile{}, err
	}
	return profile, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var profile Profile
	err := row.Scan(&profile.ID, &profile.Email, &profile.RoleID, &profile.CreatedAt)
	return profile, err
}
