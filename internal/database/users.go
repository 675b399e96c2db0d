package database

import (
	"context"

	"github.com/google/uuid"
)

const userColumns = `id, email, hashed_password, full_name, role, position, created_at`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &u.Role, &u.Position, &u.CreatedAt)
	return u, err
}

const getUserByEmail = `SELECT ` + userColumns + ` FROM users WHERE email = $1`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByEmail, email))
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, getUserByID, id))
}

// ListUsersParams filters the staff directory. Empty role means all roles.
type ListUsersParams struct {
	Role   string
	Limit  int32
	Offset int32
}

const listUsers = `
SELECT ` + userColumns + ` FROM users
WHERE ($1 = '' OR role = $1)
ORDER BY full_name
LIMIT $2 OFFSET $3`

func (q *Queries) ListUsers(ctx context.Context, arg ListUsersParams) ([]User, error) {
	rows, err := q.db.Query(ctx, listUsers, arg.Role, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateUserParams inserts a staff or client account.
type CreateUserParams struct {
	Email          string
	HashedPassword string
	FullName       string
	Role           string
	Position       string
}

const createUser = `
INSERT INTO users (id, email, hashed_password, full_name, role, position)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
RETURNING ` + userColumns

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	return scanUser(q.db.QueryRow(ctx, createUser,
		arg.Email, arg.HashedPassword, arg.FullName, arg.Role, arg.Position))
}
