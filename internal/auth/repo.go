package auth

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

// Credential pairs a profile with its password hash.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
}

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindCredential(ctx context.Context, email string) (Credential, error)
	// CreateAccount inserts the profile and its credential atomically.
	// New accounts start with role_id 0 (pending).
	CreateAccount(ctx context.Context, email, passwordHash string) (userID string, err error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindCredential fetches the credential for an email.
func (r *PGRepository) FindCredential(ctx context.Context, email string) (Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT p.id, p.email, c.password_hash
		 FROM profiles p JOIN credentials c ON c.user_id = p.id
		 WHERE p.email = $1`, email)
	var cred Credential
	if err := row.Scan(&cred.UserID, &cred.Email, &cred.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, shared.ErrNotFound
		}
		return Credential{}, err
	}
	return cred, nil
}

// CreateAccount inserts profile and credential rows in one transaction.
func (r *PGRepository) CreateAccount(ctx context.Context, email, passwordHash string) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	userID := uuid.NewString()
	if _, err := tx.Exec(ctx, `INSERT INTO profiles (id, email) VALUES ($1, $2)`, userID, email); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", shared.ErrDuplicate
		}
		return "", err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO credentials (user_id, password_hash) VALUES ($1, $2)`, userID, passwordHash); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return userID, nil
}
