package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pta-hub/dues-engine/auth"
)

// =============================================================================
// USERS - auth.UserStore
// =============================================================================

type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	Name         string `db:"name"`
	Phone        string `db:"phone"`
	Role         string `db:"role"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    string `db:"created_at"`
}

func (r userRow) toUser() (*auth.User, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("user %s: bad created_at: %w", r.ID, err)
	}
	return &auth.User{
		ID:           r.ID,
		Email:        r.Email,
		Name:         r.Name,
		Phone:        r.Phone,
		Role:         auth.Role(r.Role),
		PasswordHash: r.PasswordHash,
		CreatedAt:    created,
	}, nil
}

const userColumns = `id, email, name, phone, role, password_hash, created_at`

func (s *Store) CreateUser(ctx context.Context, u auth.User) error {
	_, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :email, :name, :phone, :role, :password_hash, :created_at)`,
		userRow{
			ID:           u.ID,
			Email:        auth.NormalizeEmail(u.Email),
			Name:         u.Name,
			Phone:        u.Phone,
			Role:         string(u.Role),
			PasswordHash: u.PasswordHash,
			CreatedAt:    formatTime(u.CreatedAt),
		})
	if err != nil {
		if isUniqueConstraintError(err) {
			return auth.ErrEmailExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, auth.NormalizeEmail(email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*auth.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return row.toUser()
}

// ListUsers returns users ordered by name, optionally restricted to a role.
func (s *Store) ListUsers(ctx context.Context, role *auth.Role) ([]auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != nil {
		query += ` WHERE role = ?`
		args = append(args, string(*role))
	}
	query += ` ORDER BY name, email`

	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]auth.User, 0, len(rows))
	for _, r := range rows {
		u, err := r.toUser()
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}
